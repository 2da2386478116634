package expr

import (
	"fmt"
	"math"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/types"
)

type ArithmeticOperator struct {
	op    string
	left  Expression
	right Expression
}

func (a *ArithmeticOperator) Eval(row types.Row) (types.Value, error) {
	l, err := a.left.Eval(row)
	if err != nil {
		return types.Null, err
	}
	r, err := a.right.Eval(row)
	if err != nil {
		return types.Null, err
	}
	if l.IsNull() || r.IsNull() {
		return types.Null, nil
	}
	if !l.IsNumeric() || !r.IsNumeric() {
		if a.op == "+" && l.Kind() == types.KindString && r.Kind() == types.KindString {
			return types.NewString(l.Str() + r.Str()), nil
		}
		return types.Null, errors.NewRuntimeErrorf("operator '%s' cannot be applied to %s and %s", a.op, l.Kind(), r.Kind())
	}
	if l.Kind() == types.KindInt && r.Kind() == types.KindInt {
		return a.evalInt(l.Int(), r.Int())
	}
	lf, _ := l.AsFloat()
	rf, _ := r.AsFloat()
	return a.evalFloat(lf, rf), nil
}

func (a *ArithmeticOperator) evalInt(l int64, r int64) (types.Value, error) {
	switch a.op {
	case "+":
		return types.NewInt(l + r), nil
	case "-":
		return types.NewInt(l - r), nil
	case "*":
		return types.NewInt(l * r), nil
	case "/":
		if r == 0 {
			return types.Null, errors.NewRuntimeErrorf("division by zero")
		}
		return types.NewInt(l / r), nil
	case "%":
		if r == 0 {
			return types.Null, errors.NewRuntimeErrorf("division by zero")
		}
		return types.NewInt(l % r), nil
	default:
		panic(fmt.Sprintf("unexpected operator %s", a.op))
	}
}

func (a *ArithmeticOperator) evalFloat(l float64, r float64) types.Value {
	switch a.op {
	case "+":
		return types.NewFloat(l + r)
	case "-":
		return types.NewFloat(l - r)
	case "*":
		return types.NewFloat(l * r)
	case "/":
		return types.NewFloat(l / r)
	case "%":
		return types.NewFloat(math.Mod(l, r))
	default:
		panic(fmt.Sprintf("unexpected operator %s", a.op))
	}
}

func (a *ArithmeticOperator) String() string {
	return fmt.Sprintf("(%s %s %s)", a.left.String(), a.op, a.right.String())
}

// ComparisonOperator compares with three valued logic, a null operand gives a null result. Numeric operands
// of different kinds compare by value, any other mix of kinds is an error.
type ComparisonOperator struct {
	op    string
	left  Expression
	right Expression
}

func (c *ComparisonOperator) Eval(row types.Row) (types.Value, error) {
	l, err := c.left.Eval(row)
	if err != nil {
		return types.Null, err
	}
	r, err := c.right.Eval(row)
	if err != nil {
		return types.Null, err
	}
	if l.IsNull() || r.IsNull() {
		return types.Null, nil
	}
	if l.Kind() != r.Kind() && !(l.IsNumeric() && r.IsNumeric()) {
		return types.Null, errors.NewRuntimeErrorf("cannot compare %s with %s", l.Kind(), r.Kind())
	}
	cmp := types.Compare(l, r)
	var res bool
	switch c.op {
	case "==":
		res = cmp == 0
	case "!=":
		res = cmp != 0
	case "<":
		res = cmp < 0
	case "<=":
		res = cmp <= 0
	case ">":
		res = cmp > 0
	case ">=":
		res = cmp >= 0
	default:
		panic(fmt.Sprintf("unexpected operator %s", c.op))
	}
	return types.NewBool(res), nil
}

func (c *ComparisonOperator) String() string {
	return fmt.Sprintf("(%s %s %s)", c.left.String(), c.op, c.right.String())
}

type LogicalAndOperator struct {
	left  Expression
	right Expression
}

func (l *LogicalAndOperator) Eval(row types.Row) (types.Value, error) {
	lv, err := evalBool(l.left, row, "&&")
	if err != nil {
		return types.Null, err
	}
	if !lv.IsNull() && !lv.Bool() {
		return lv, nil
	}
	rv, err := evalBool(l.right, row, "&&")
	if err != nil {
		return types.Null, err
	}
	if !rv.IsNull() && !rv.Bool() {
		return rv, nil
	}
	if lv.IsNull() || rv.IsNull() {
		return types.Null, nil
	}
	return types.NewBool(true), nil
}

func (l *LogicalAndOperator) String() string {
	return fmt.Sprintf("(%s && %s)", l.left.String(), l.right.String())
}

type LogicalOrOperator struct {
	left  Expression
	right Expression
}

func (l *LogicalOrOperator) Eval(row types.Row) (types.Value, error) {
	lv, err := evalBool(l.left, row, "||")
	if err != nil {
		return types.Null, err
	}
	if !lv.IsNull() && lv.Bool() {
		return lv, nil
	}
	rv, err := evalBool(l.right, row, "||")
	if err != nil {
		return types.Null, err
	}
	if !rv.IsNull() && rv.Bool() {
		return rv, nil
	}
	if lv.IsNull() || rv.IsNull() {
		return types.Null, nil
	}
	return types.NewBool(false), nil
}

func (l *LogicalOrOperator) String() string {
	return fmt.Sprintf("(%s || %s)", l.left.String(), l.right.String())
}

type LogicalNotOperator struct {
	operand Expression
}

func (l *LogicalNotOperator) Eval(row types.Row) (types.Value, error) {
	v, err := evalBool(l.operand, row, "!")
	if err != nil || v.IsNull() {
		return v, err
	}
	return types.NewBool(!v.Bool()), nil
}

func (l *LogicalNotOperator) String() string {
	return fmt.Sprintf("(!%s)", l.operand.String())
}

type NegateOperator struct {
	operand Expression
}

func (n *NegateOperator) Eval(row types.Row) (types.Value, error) {
	v, err := n.operand.Eval(row)
	if err != nil {
		return types.Null, err
	}
	switch v.Kind() {
	case types.KindNull:
		return v, nil
	case types.KindInt:
		return types.NewInt(-v.Int()), nil
	case types.KindFloat:
		return types.NewFloat(-v.Float()), nil
	default:
		return types.Null, errors.NewRuntimeErrorf("operator '-' cannot be applied to %s", v.Kind())
	}
}

func (n *NegateOperator) String() string {
	return fmt.Sprintf("(-%s)", n.operand.String())
}

func evalBool(e Expression, row types.Row, op string) (types.Value, error) {
	v, err := e.Eval(row)
	if err != nil {
		return types.Null, err
	}
	if v.IsNull() || v.Kind() == types.KindBool {
		return v, nil
	}
	return types.Null, errors.NewRuntimeErrorf("operator '%s' requires bool operands, got %s", op, v.Kind())
}
