// Copyright 2024 The Tekagg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expr

import (
	"fmt"
	"strings"

	"github.com/spirit-labs/tekagg/parser"
	"github.com/spirit-labs/tekagg/types"
)

// Expression is a scalar expression evaluated against a single row. String returns a canonical form which is
// stable across processes, it is used in plan fingerprints.
type Expression interface {
	Eval(row types.Row) (types.Value, error)
	String() string
}

type ExpressionFactory struct {
}

func (f *ExpressionFactory) CreateExpression(desc parser.ExprDesc, columnNames []string) (Expression, error) {
	switch op := desc.(type) {
	case *parser.IntegerConstExprDesc:
		return NewConstantExpr(types.NewInt(op.Value)), nil
	case *parser.FloatConstExprDesc:
		return NewConstantExpr(types.NewFloat(op.Value)), nil
	case *parser.BoolConstExprDesc:
		return NewConstantExpr(types.NewBool(op.Value)), nil
	case *parser.StringConstExprDesc:
		return NewConstantExpr(types.NewString(op.Value)), nil
	case *parser.NullConstExprDesc:
		return NewConstantExpr(types.Null), nil
	case *parser.IdentifierExprDesc:
		return createColumnExpr(op, columnNames)
	case *parser.BinaryOperatorExprDesc:
		return f.createBinaryOperator(op, columnNames)
	case *parser.UnaryOperatorExprDesc:
		return f.createUnaryOperator(op, columnNames)
	case *parser.FunctionExprDesc:
		if op.Aggregate {
			return nil, op.ErrorAtPosition("aggregate function '%s' cannot be used here", op.FunctionName)
		}
		return f.createFunction(op, columnNames)
	case *parser.StarExprDesc:
		return nil, op.ErrorAtPosition("'*' cannot be used here")
	default:
		return nil, desc.ErrorAtPosition("unsupported expression %s", desc.String())
	}
}

// CreateExpressions compiles each of descs against the same columns.
func (f *ExpressionFactory) CreateExpressions(descs []parser.ExprDesc, columnNames []string) ([]Expression, error) {
	exprs := make([]Expression, len(descs))
	for i, desc := range descs {
		e, err := f.CreateExpression(desc, columnNames)
		if err != nil {
			return nil, err
		}
		exprs[i] = e
	}
	return exprs, nil
}

func createColumnExpr(desc *parser.IdentifierExprDesc, columnNames []string) (Expression, error) {
	for i, cName := range columnNames {
		if cName == desc.IdentifierName {
			return NewColumnExpr(i, cName), nil
		}
	}
	return nil, desc.ErrorAtPosition("unknown column '%s'. (available columns: %s)", desc.IdentifierName,
		strings.Join(columnNames, ", "))
}

func (f *ExpressionFactory) createBinaryOperator(desc *parser.BinaryOperatorExprDesc, columnNames []string) (Expression, error) {
	if desc.Op == "as" {
		return nil, desc.ErrorAtPosition("'as' can only be used at the end of a select expression")
	}
	left, err := f.CreateExpression(desc.Left, columnNames)
	if err != nil {
		return nil, err
	}
	right, err := f.CreateExpression(desc.Right, columnNames)
	if err != nil {
		return nil, err
	}
	switch desc.Op {
	case "+", "-", "*", "/", "%":
		return &ArithmeticOperator{op: desc.Op, left: left, right: right}, nil
	case "==", "!=", "<", "<=", ">", ">=":
		return &ComparisonOperator{op: desc.Op, left: left, right: right}, nil
	case "&&":
		return &LogicalAndOperator{left: left, right: right}, nil
	case "||":
		return &LogicalOrOperator{left: left, right: right}, nil
	default:
		return nil, desc.ErrorAtPosition("unknown operator '%s'", desc.Op)
	}
}

func (f *ExpressionFactory) createUnaryOperator(desc *parser.UnaryOperatorExprDesc, columnNames []string) (Expression, error) {
	operand, err := f.CreateExpression(desc.Operand, columnNames)
	if err != nil {
		return nil, err
	}
	switch desc.Op {
	case "!":
		return &LogicalNotOperator{operand: operand}, nil
	case "-":
		return &NegateOperator{operand: operand}, nil
	default:
		return nil, desc.ErrorAtPosition("unknown operator '%s'", desc.Op)
	}
}

func (f *ExpressionFactory) createFunction(desc *parser.FunctionExprDesc, columnNames []string) (Expression, error) {
	def, ok := scalarFunctions[desc.FunctionName]
	if !ok {
		return nil, desc.ErrorAtPosition("unknown function '%s'", desc.FunctionName)
	}
	if len(desc.ArgExprs) < def.minArgs || (def.maxArgs >= 0 && len(desc.ArgExprs) > def.maxArgs) {
		return nil, desc.ErrorAtPosition("function '%s' %s", desc.FunctionName, def.arityDescription())
	}
	args, err := f.CreateExpressions(desc.ArgExprs, columnNames)
	if err != nil {
		return nil, err
	}
	return &FunctionExpr{name: desc.FunctionName, args: args, fn: def.fn}, nil
}

type ColumnExpr struct {
	colIndex int
	name     string
}

func NewColumnExpr(colIndex int, name string) *ColumnExpr {
	return &ColumnExpr{colIndex: colIndex, name: name}
}

func (c *ColumnExpr) Eval(row types.Row) (types.Value, error) {
	if c.colIndex >= len(row) {
		return types.Null, fmt.Errorf("row has %d columns, column '%s' is at index %d", len(row), c.name, c.colIndex)
	}
	return row[c.colIndex], nil
}

func (c *ColumnExpr) String() string {
	return fmt.Sprintf("$%d", c.colIndex)
}

func (c *ColumnExpr) ColIndex() int {
	return c.colIndex
}

type ConstantExpr struct {
	val types.Value
}

func NewConstantExpr(val types.Value) *ConstantExpr {
	return &ConstantExpr{val: val}
}

func (c *ConstantExpr) Eval(types.Row) (types.Value, error) {
	return c.val, nil
}

func (c *ConstantExpr) String() string {
	if c.val.Kind() == types.KindString {
		return fmt.Sprintf("%q", c.val.Str())
	}
	return fmt.Sprintf("%s:%s", c.val.String(), c.val.Kind())
}
