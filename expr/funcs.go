package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/types"
)

type scalarFunc func(name string, args []types.Value) (types.Value, error)

type functionDef struct {
	minArgs int
	// -1 means variadic
	maxArgs int
	fn      scalarFunc
}

func (f *functionDef) arityDescription() string {
	switch {
	case f.maxArgs == f.minArgs:
		return fmt.Sprintf("requires %d argument(s)", f.minArgs)
	case f.maxArgs < 0:
		return fmt.Sprintf("requires at least %d argument(s)", f.minArgs)
	default:
		return fmt.Sprintf("requires between %d and %d arguments", f.minArgs, f.maxArgs)
	}
}

var scalarFunctions = map[string]functionDef{
	"lower":     {1, 1, stringFunc(strings.ToLower)},
	"upper":     {1, 1, stringFunc(strings.ToUpper)},
	"trim":      {1, 1, stringFunc(strings.TrimSpace)},
	"len":       {1, 1, lenFunc},
	"concat":    {1, -1, concatFunc},
	"abs":       {1, 1, absFunc},
	"coalesce":  {1, -1, coalesceFunc},
	"if":        {3, 3, ifFunc},
	"is_null":   {1, 1, isNullFunc},
	"to_int":    {1, 1, toIntFunc},
	"to_float":  {1, 1, toFloatFunc},
	"to_string": {1, 1, toStringFunc},
}

type FunctionExpr struct {
	name string
	args []Expression
	fn   scalarFunc
}

func (f *FunctionExpr) Eval(row types.Row) (types.Value, error) {
	vals := make([]types.Value, len(f.args))
	for i, arg := range f.args {
		v, err := arg.Eval(row)
		if err != nil {
			return types.Null, err
		}
		vals[i] = v
	}
	return f.fn(f.name, vals)
}

func (f *FunctionExpr) String() string {
	sb := strings.Builder{}
	sb.WriteString(f.name)
	sb.WriteRune('(')
	for i, arg := range f.args {
		sb.WriteString(arg.String())
		if i != len(f.args)-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteRune(')')
	return sb.String()
}

func argTypeError(name string, v types.Value) error {
	return errors.NewRuntimeErrorf("function '%s' cannot be applied to %s", name, v.Kind())
}

func stringFunc(f func(string) string) scalarFunc {
	return func(name string, args []types.Value) (types.Value, error) {
		v := args[0]
		if v.IsNull() {
			return v, nil
		}
		if v.Kind() != types.KindString {
			return types.Null, argTypeError(name, v)
		}
		return types.NewString(f(v.Str())), nil
	}
}

func lenFunc(name string, args []types.Value) (types.Value, error) {
	v := args[0]
	if v.IsNull() {
		return v, nil
	}
	if v.Kind() != types.KindString {
		return types.Null, argTypeError(name, v)
	}
	return types.NewInt(int64(len(v.Str()))), nil
}

func concatFunc(_ string, args []types.Value) (types.Value, error) {
	sb := strings.Builder{}
	for _, v := range args {
		if v.IsNull() {
			return types.Null, nil
		}
		sb.WriteString(v.String())
	}
	return types.NewString(sb.String()), nil
}

func absFunc(name string, args []types.Value) (types.Value, error) {
	v := args[0]
	switch v.Kind() {
	case types.KindNull:
		return v, nil
	case types.KindInt:
		if v.Int() < 0 {
			return types.NewInt(-v.Int()), nil
		}
		return v, nil
	case types.KindFloat:
		return types.NewFloat(math.Abs(v.Float())), nil
	default:
		return types.Null, argTypeError(name, v)
	}
}

func coalesceFunc(_ string, args []types.Value) (types.Value, error) {
	for _, v := range args {
		if !v.IsNull() {
			return v, nil
		}
	}
	return types.Null, nil
}

func ifFunc(name string, args []types.Value) (types.Value, error) {
	cond := args[0]
	if cond.IsNull() {
		return args[2], nil
	}
	if cond.Kind() != types.KindBool {
		return types.Null, argTypeError(name, cond)
	}
	if cond.Bool() {
		return args[1], nil
	}
	return args[2], nil
}

func isNullFunc(_ string, args []types.Value) (types.Value, error) {
	return types.NewBool(args[0].IsNull()), nil
}

func toIntFunc(name string, args []types.Value) (types.Value, error) {
	v := args[0]
	switch v.Kind() {
	case types.KindNull:
		return v, nil
	case types.KindString:
		i, err := strconv.ParseInt(strings.TrimSpace(v.Str()), 10, 64)
		if err != nil {
			return types.Null, errors.NewRuntimeErrorf("cannot convert '%s' to int", v.Str())
		}
		return types.NewInt(i), nil
	default:
		i, ok := v.AsInt()
		if !ok {
			return types.Null, argTypeError(name, v)
		}
		return types.NewInt(i), nil
	}
}

func toFloatFunc(name string, args []types.Value) (types.Value, error) {
	v := args[0]
	switch v.Kind() {
	case types.KindNull:
		return v, nil
	case types.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
		if err != nil {
			return types.Null, errors.NewRuntimeErrorf("cannot convert '%s' to float", v.Str())
		}
		return types.NewFloat(f), nil
	case types.KindBool:
		return types.Null, argTypeError(name, v)
	default:
		f, _ := v.AsFloat()
		return types.NewFloat(f), nil
	}
}

func toStringFunc(_ string, args []types.Value) (types.Value, error) {
	v := args[0]
	if v.IsNull() {
		return v, nil
	}
	return types.NewString(v.String()), nil
}
