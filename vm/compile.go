package vm

import (
	"fmt"

	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/expr"
	"github.com/spirit-labs/tekagg/parser"
	"github.com/spirit-labs/tekagg/types"
)

type Compiler struct {
	exprFactory *expr.ExpressionFactory
}

func NewCompiler() *Compiler {
	return &Compiler{exprFactory: &expr.ExpressionFactory{}}
}

func (c *Compiler) CompileSelectList(items []parser.SelectItemDesc, columnNames []string) ([]Program, error) {
	progs := make([]Program, len(items))
	for i, item := range items {
		prog, err := c.CompileSelectItem(item.Expr, columnNames)
		if err != nil {
			return nil, err
		}
		progs[i] = prog
	}
	return progs, nil
}

// CompileSelectItem compiles a select expression. A bare aggregate call compiles directly to an AggregateProgram.
// Anything else is split into parts: each aggregate call, and each column reference outside an aggregate, becomes
// a part with its own state, and the remaining expression is evaluated over the part results when the group is
// finalized.
func (c *Compiler) CompileSelectItem(desc parser.ExprDesc, columnNames []string) (Program, error) {
	if fe, ok := desc.(*parser.FunctionExprDesc); ok && fe.Aggregate {
		prog, err := c.compileAggregate(fe, columnNames)
		if err != nil {
			return nil, err
		}
		return prog, nil
	}
	cp := &CompositeProgram{}
	var partNames []string
	rewritten, err := c.extractParts(desc, columnNames, cp, &partNames)
	if err != nil {
		return nil, err
	}
	outer, err := c.exprFactory.CreateExpression(rewritten, partNames)
	if err != nil {
		return nil, err
	}
	cp.outer = outer
	return cp, nil
}

func (c *Compiler) compileAggregate(fe *parser.FunctionExprDesc, columnNames []string) (*AggregateProgram, error) {
	fn, ok := aggregateFunctions[fe.FunctionName]
	if !ok {
		return nil, fe.ErrorAtPosition("unknown aggregate function '%s'", fe.FunctionName)
	}
	if len(fe.ArgExprs) != 1 {
		return nil, fe.ErrorAtPosition("aggregate function '%s' requires exactly one argument", fe.FunctionName)
	}
	if _, star := fe.ArgExprs[0].(*parser.StarExprDesc); star {
		return &AggregateProgram{fn: fn}, nil
	}
	arg, err := c.exprFactory.CreateExpression(fe.ArgExprs[0], columnNames)
	if err != nil {
		return nil, err
	}
	return &AggregateProgram{fn: fn, arg: arg}, nil
}

func (c *Compiler) addPart(prog *AggregateProgram, cp *CompositeProgram, partNames *[]string) parser.ExprDesc {
	name := fmt.Sprintf("$part%d", len(cp.parts))
	cp.parts = append(cp.parts, prog)
	*partNames = append(*partNames, name)
	return &parser.IdentifierExprDesc{IdentifierName: name}
}

func (c *Compiler) extractParts(desc parser.ExprDesc, columnNames []string, cp *CompositeProgram,
	partNames *[]string) (parser.ExprDesc, error) {
	switch op := desc.(type) {
	case *parser.FunctionExprDesc:
		if op.Aggregate {
			prog, err := c.compileAggregate(op, columnNames)
			if err != nil {
				return nil, err
			}
			return c.addPart(prog, cp, partNames), nil
		}
		cp2 := *op
		cp2.ArgExprs = make([]parser.ExprDesc, len(op.ArgExprs))
		for i, arg := range op.ArgExprs {
			rewritten, err := c.extractParts(arg, columnNames, cp, partNames)
			if err != nil {
				return nil, err
			}
			cp2.ArgExprs[i] = rewritten
		}
		return &cp2, nil
	case *parser.IdentifierExprDesc:
		colExpr, err := c.exprFactory.CreateExpression(op, columnNames)
		if err != nil {
			return nil, err
		}
		return c.addPart(&AggregateProgram{fn: aggregateFunctions[anyValueName], arg: colExpr}, cp, partNames), nil
	case *parser.BinaryOperatorExprDesc:
		left, err := c.extractParts(op.Left, columnNames, cp, partNames)
		if err != nil {
			return nil, err
		}
		right, err := c.extractParts(op.Right, columnNames, cp, partNames)
		if err != nil {
			return nil, err
		}
		cp2 := *op
		cp2.Left = left
		cp2.Right = right
		return &cp2, nil
	case *parser.UnaryOperatorExprDesc:
		operand, err := c.extractParts(op.Operand, columnNames, cp, partNames)
		if err != nil {
			return nil, err
		}
		cp2 := *op
		cp2.Operand = operand
		return &cp2, nil
	default:
		return desc, nil
	}
}

// CompositeProgram evaluates a scalar expression over the results of its parts.
type CompositeProgram struct {
	parts []*AggregateProgram
	outer expr.Expression
}

func (c *CompositeProgram) NewState() State {
	states := make([]State, len(c.parts))
	for i, part := range c.parts {
		states[i] = part.NewState()
	}
	return &compositeState{parts: states}
}

func (c *CompositeProgram) Accumulate(state State, row types.Row) error {
	cs := state.(*compositeState)
	for i, part := range c.parts {
		if err := part.Accumulate(cs.parts[i], row); err != nil {
			return err
		}
	}
	return nil
}

func (c *CompositeProgram) Result(state State) (types.Value, error) {
	cs := state.(*compositeState)
	partRow := make(types.Row, len(c.parts))
	for i, part := range c.parts {
		v, err := part.Result(cs.parts[i])
		if err != nil {
			return types.Null, err
		}
		partRow[i] = v
	}
	return c.outer.Eval(partRow)
}

func (c *CompositeProgram) String() string {
	s := c.outer.String()
	for _, part := range c.parts {
		s += "|" + part.String()
	}
	return s
}

type compositeState struct {
	parts []State
}

func (c *compositeState) Merge(other State) error {
	o, ok := other.(*compositeState)
	if !ok || len(o.parts) != len(c.parts) {
		return mergeTypeError(c, other)
	}
	for i, part := range c.parts {
		if err := part.Merge(o.parts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *compositeState) Save(w *encoding.Writer) {
	for _, part := range c.parts {
		part.Save(w)
	}
}

func (c *compositeState) Load(r *encoding.Reader) error {
	for _, part := range c.parts {
		if err := part.Load(r); err != nil {
			return err
		}
	}
	return nil
}

// ProgramsFingerprint is the canonical form of a list of programs.
func ProgramsFingerprint(progs []Program) string {
	s := ""
	for i, prog := range progs {
		if i > 0 {
			s += ";"
		}
		s += prog.String()
	}
	return s
}
