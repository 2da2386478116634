package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/spirit-labs/tekagg/errors"
)

// ExprDesc is the parsed, not yet compiled, form of an expression. String returns a canonical rendering which
// ignores whitespace and redundant parentheses.
type ExprDesc interface {
	ErrorAtPosition(msg string, args ...interface{}) error
	String() string
}

type BaseExprDesc struct {
	tokenInfo tokenInfo
}

func (b *BaseExprDesc) ErrorAtPosition(msg string, args ...interface{}) error {
	msg = fmt.Sprintf(msg, args...)
	return errors.NewParseError(MessageWithPosition(msg, b.tokenInfo.token.Pos, b.tokenInfo.input))
}

type tokenInfo struct {
	token lexer.Token
	input string
}

func (t *tokenInfo) set(tok lexer.Token, input string) {
	t.token = tok
	t.input = input
}

type BinaryOperatorExprDesc struct {
	BaseExprDesc
	Left  ExprDesc
	Right ExprDesc
	Op    string
}

func (b *BinaryOperatorExprDesc) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op, b.Right.String())
}

type UnaryOperatorExprDesc struct {
	BaseExprDesc
	Operand ExprDesc
	Op      string
}

func (u *UnaryOperatorExprDesc) String() string {
	return fmt.Sprintf("(%s%s)", u.Op, u.Operand.String())
}

type IntegerConstExprDesc struct {
	BaseExprDesc
	Value int64
}

func (i *IntegerConstExprDesc) String() string {
	return strconv.FormatInt(i.Value, 10)
}

type FloatConstExprDesc struct {
	BaseExprDesc
	Value float64
}

func (f *FloatConstExprDesc) String() string {
	s := strconv.FormatFloat(f.Value, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		// keep floats distinguishable from ints
		s += ".0"
	}
	return s
}

type BoolConstExprDesc struct {
	BaseExprDesc
	Value bool
}

func (b *BoolConstExprDesc) String() string {
	return strconv.FormatBool(b.Value)
}

type NullConstExprDesc struct {
	BaseExprDesc
}

func (n *NullConstExprDesc) String() string {
	return "null"
}

type StringConstExprDesc struct {
	BaseExprDesc
	Value string
}

func (s *StringConstExprDesc) String() string {
	return strconv.Quote(s.Value)
}

type IdentifierExprDesc struct {
	BaseExprDesc
	IdentifierName string
}

func (i *IdentifierExprDesc) String() string {
	return i.IdentifierName
}

// StarExprDesc is the `*` argument of count(*).
type StarExprDesc struct {
	BaseExprDesc
}

func (s *StarExprDesc) String() string {
	return "*"
}

type FunctionExprDesc struct {
	BaseExprDesc
	FunctionName string
	Aggregate    bool
	ArgExprs     []ExprDesc
}

func (f *FunctionExprDesc) String() string {
	sb := strings.Builder{}
	sb.WriteString(f.FunctionName)
	sb.WriteRune('(')
	for i, arg := range f.ArgExprs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(arg.String())
	}
	sb.WriteRune(')')
	return sb.String()
}

func (p *Parser) ParseExpressionList(context *ParseContext) ([]ExprDesc, [][]lexer.Token, error) {
	var exprs []ExprDesc
	var allTokens [][]lexer.Token
	for {
		tokens, more, err := ExtractExpressionTokens(context)
		if err != nil {
			return nil, nil, err
		}
		if len(tokens) == 0 {
			if tok, ok := context.PeekToken(); ok {
				return nil, nil, foundUnexpectedTokenError("expression", tok, context.input)
			}
			return nil, nil, errors.NewParseError("expected expression but reached end of input")
		}
		allTokens = append(allTokens, tokens)
		expr, err := p.ParseExpression(NewParseContext(p, context.input, tokens))
		if err != nil {
			return nil, nil, err
		}
		exprs = append(exprs, expr)
		if !more {
			break
		}
	}
	if tok, ok := context.PeekToken(); ok {
		return nil, nil, foundUnexpectedTokenError("','", tok, context.input)
	}
	return exprs, allTokens, nil
}

// ExtractExpressionTokens returns the tokens of the next expression in a list. An expression is terminated by a
// top level ',', an unmatched ')' or the end of input.
func ExtractExpressionTokens(context *ParseContext) ([]lexer.Token, bool, error) {
	parensCount := 0
	var tokens []lexer.Token
	more := false
loop:
	for {
		token, ok := context.PeekToken()
		if !ok {
			break
		}
		switch token.Type {
		case LParensTokenType:
			parensCount++
		case RParensTokenType:
			parensCount--
			if parensCount < 0 {
				break loop
			}
		case ListSeparatorTokenType:
			if parensCount == 0 {
				more = true
				context.NextToken()
				break loop
			}
		}
		tokens = append(tokens, token)
		context.NextToken()
	}
	return tokens, more, nil
}

func (p *Parser) ParseExpression(context *ParseContext) (ExprDesc, error) {
	tokens, err := p.shuntExpression(context)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.NewParseError("expected expression but reached end of input")
	}
	expr, pos, err := p.parseExpression(tokens, len(tokens)-1, context.input)
	if err != nil {
		return nil, err
	}
	if pos >= 0 {
		// tokens left over means two operands with no operator between them
		return nil, errorAtPosition("expected operator", lastTokenPos(tokens[:pos+1]), context.input)
	}
	return expr, nil
}

func lastTokenPos(tokens []lexer.Token) lexer.Position {
	pos := tokens[0].Pos
	for _, tok := range tokens[1:] {
		if tok.Pos.Offset > pos.Offset {
			pos = tok.Pos
		}
	}
	return pos
}

func (p *Parser) isUnaryPosition(prevToken *lexer.Token) bool {
	return prevToken == nil || prevToken.Type == BinaryOpTokenType || prevToken.Type == UnaryOpTokenType ||
		prevToken.Type == ListSeparatorTokenType || prevToken.Type == LParensTokenType
}

func checkUnaryOperand(prevToken *lexer.Token, token *lexer.Token, input string) error {
	// absence of a unary operand isn't otherwise detected in expression parsing
	if prevToken != nil && prevToken.Type == UnaryOpTokenType {
		if token == nil || token.Type == RParensTokenType || token.Type == ListSeparatorTokenType {
			return incompleteExpressionError(*prevToken, input)
		}
	}
	return nil
}

func (p *Parser) checkValidFunction(prevToken *lexer.Token, token *lexer.Token, input string) error {
	if prevToken != nil && prevToken.Type == IdentTokenType && token.Type == LParensTokenType {
		// validated here, otherwise the identifier gets shunted elsewhere and the error is hard to understand
		if !p.isFunction(prevToken.Value) {
			msg := fmt.Sprintf("'%s' is not a known function", prevToken.Value)
			return errorAtPosition(msg, prevToken.Pos, input)
		}
	}
	return nil
}

// shuntExpression uses the shunting yard algorithm to convert the expression into post-fix notation, which maps
// directly to the expression tree structure. Parentheses are kept in the output so that function argument lists
// of variable length can be delimited.
func (p *Parser) shuntExpression(context *ParseContext) ([]lexer.Token, error) {
	var output []lexer.Token
	var tokens tokenStack
	var prevToken *lexer.Token
	for {
		tok, ok := context.NextToken()
		if !ok {
			break
		}
		if err := checkUnaryOperand(prevToken, &tok, context.input); err != nil {
			return nil, err
		}
		if err := p.checkValidFunction(prevToken, &tok, context.input); err != nil {
			return nil, err
		}
		switch tok.Type {
		case BinaryOpTokenType, UnaryOpTokenType:
			if tok.Value == "*" && prevToken != nil && prevToken.Type == LParensTokenType {
				if next, ok := context.PeekToken(); ok && next.Type == RParensTokenType {
					// count(*)
					tok.Type = IdentTokenType
					output = append(output, tok)
					break
				}
			}
			if (tok.Value == "-" || tok.Value == "+") && p.isUnaryPosition(prevToken) {
				next, ok := context.PeekToken()
				if ok && (next.Type == IntegerTokenType || next.Type == FloatTokenType) {
					// a signed number constant, not an operator
					context.NextToken()
					if tok.Value == "-" {
						next.Value = "-" + next.Value
					}
					next.Pos = tok.Pos
					output = append(output, next)
					tok = next
					break
				}
				if tok.Value == "+" {
					// unary plus is a no-op
					continue
				}
				tok.Type = UnaryOpTokenType
			}
			// pop operators which bind at least as tightly, binary operators associate left to right
			for {
				top, ok := tokens.peek()
				if !ok || top.Type == LParensTokenType || (top.Type != BinaryOpTokenType && top.Type != UnaryOpTokenType) {
					break
				}
				if tok.Type == UnaryOpTokenType {
					// prefix operators bind to what follows, nothing is popped
					break
				}
				if getPrecedence(top) >= getPrecedence(tok) {
					popped, _ := tokens.pop()
					output = append(output, popped)
				} else {
					break
				}
			}
			tokens.push(tok)
		case LParensTokenType:
			tokens.push(tok)
			output = append(output, tok)
		case RParensTokenType:
			for {
				top, ok := tokens.pop()
				if !ok {
					return nil, errorAtPosition("unmatched ')'", tok.Pos, context.input)
				}
				if top.Type == LParensTokenType {
					break
				}
				output = append(output, top)
			}
			output = append(output, tok)
			top, ok := tokens.peek()
			if ok && top.Type == IdentTokenType {
				tokens.pop()
				output = append(output, top)
			}
		case IdentTokenType:
			next, hasNext := context.PeekToken()
			if hasNext && next.Type == LParensTokenType {
				tokens.push(tok)
			} else {
				output = append(output, tok)
			}
		case ListSeparatorTokenType:
			for {
				top, ok := tokens.peek()
				if !ok || top.Type == LParensTokenType {
					break
				}
				popped, _ := tokens.pop()
				output = append(output, popped)
			}
		default:
			output = append(output, tok)
		}
		t := tok
		prevToken = &t
	}
	if err := checkUnaryOperand(prevToken, nil, context.input); err != nil {
		return nil, err
	}
	for {
		popped, ok := tokens.pop()
		if !ok {
			break
		}
		if popped.Type == LParensTokenType {
			return nil, errorAtPosition("unmatched '('", popped.Pos, context.input)
		}
		output = append(output, popped)
	}
	return output, nil
}

func checkPos(pos int, tokens []lexer.Token, input string) error {
	if pos >= 0 {
		return nil
	}
	return incompleteExpressionError(tokens[pos+1], input)
}

// parseExpression takes shunted tokens and creates an expression tree from them. The shunted tokens are in post-fix
// notation, so it works from the end backwards.
func (p *Parser) parseExpression(tokens []lexer.Token, pos int, input string) (ExprDesc, int, error) {
	if err := checkPos(pos, tokens, input); err != nil {
		return nil, 0, err
	}
	// remove leading rparens (reversed, so rparens come before lparens)
	leadingParensCount := 0
	for tokens[pos].Type == RParensTokenType {
		pos--
		leadingParensCount++
		if err := checkPos(pos, tokens, input); err != nil {
			return nil, 0, err
		}
	}
	tok := tokens[pos]
	var expr ExprDesc
	var err error
	switch tok.Type {
	case IdentTokenType:
		if pos > 0 && tokens[pos-1].Type == RParensTokenType && p.isFunction(tok.Value) {
			expr, pos, err = p.createFunctionExpression(tokens, pos, input)
			if err != nil {
				return nil, 0, err
			}
		} else {
			expr = createIdentOrKeyword(tok, input)
			pos--
		}
	case BinaryOpTokenType:
		expr, pos, err = p.createBinaryExpression(tokens, pos, input)
		if err != nil {
			return nil, 0, err
		}
	case UnaryOpTokenType:
		expr, pos, err = p.createUnaryExpression(tokens, pos, input)
		if err != nil {
			return nil, 0, err
		}
	case IntegerTokenType:
		i, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, 0, errorAtPosition("integer constant out of range", tok.Pos, input)
		}
		ie := &IntegerConstExprDesc{Value: i}
		ie.tokenInfo.set(tok, input)
		expr = ie
		pos--
	case FloatTokenType:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, 0, errorAtPosition("invalid float constant", tok.Pos, input)
		}
		fe := &FloatConstExprDesc{Value: f}
		fe.tokenInfo.set(tok, input)
		expr = fe
		pos--
	case StringLiteralTokenType:
		unquoted, err := unquote(tok.Value)
		if err != nil {
			return nil, 0, errorAtPosition("invalid quoted string literal", tok.Pos, input)
		}
		se := &StringConstExprDesc{Value: unquoted}
		se.tokenInfo.set(tok, input)
		expr = se
		pos--
	case LParensTokenType:
		return nil, 0, incompleteExpressionError(tok, input)
	default:
		return nil, 0, errorAtPosition(fmt.Sprintf("unexpected token '%s'", tok.Value), tok.Pos, input)
	}
	// remove the matching lparens
	for i := 0; i < leadingParensCount; i++ {
		if pos < 0 || tokens[pos].Type != LParensTokenType {
			if pos < 0 {
				return nil, 0, incompleteExpressionError(tok, input)
			}
			return nil, 0, foundUnexpectedTokenError("'('", tokens[pos], input)
		}
		pos--
	}
	return expr, pos, nil
}

func unquote(s string) (string, error) {
	if strings.HasPrefix(s, "'") {
		// single quoted, convert to double quoted form for strconv
		inner := s[1 : len(s)-1]
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		s = `"` + inner + `"`
	}
	return strconv.Unquote(s)
}

func createIdentOrKeyword(tok lexer.Token, input string) ExprDesc {
	switch strings.ToLower(tok.Value) {
	case "true", "false":
		be := &BoolConstExprDesc{Value: strings.EqualFold(tok.Value, "true")}
		be.tokenInfo.set(tok, input)
		return be
	case "null":
		ne := &NullConstExprDesc{}
		ne.tokenInfo.set(tok, input)
		return ne
	case "*":
		se := &StarExprDesc{}
		se.tokenInfo.set(tok, input)
		return se
	}
	ie := &IdentifierExprDesc{IdentifierName: tok.Value}
	ie.tokenInfo.set(tok, input)
	return ie
}

func (p *Parser) isFunction(functionName string) bool {
	name := strings.ToLower(functionName)
	if _, ok := BuiltinFunctions[name]; ok {
		return true
	}
	_, ok := AggregateFunctions[name]
	return ok
}

func (p *Parser) createFunctionExpression(tokens []lexer.Token, pos int, input string) (ExprDesc, int, error) {
	funcTok := tokens[pos]
	funcName := strings.ToLower(funcTok.Value)
	_, aggregate := AggregateFunctions[funcName]
	pos--
	if err := checkPos(pos, tokens, input); err != nil {
		return nil, 0, err
	}
	if tokens[pos].Type != RParensTokenType {
		return nil, 0, errorAtPosition("missing parentheses", tokens[pos+1].Pos, input)
	}
	pos--
	var argExprs []ExprDesc
	for {
		if err := checkPos(pos, tokens, input); err != nil {
			return nil, 0, err
		}
		if tokens[pos].Type == LParensTokenType {
			// end of parameters
			pos--
			break
		}
		var err error
		var expr ExprDesc
		expr, pos, err = p.parseExpression(tokens, pos, input)
		if err != nil {
			return nil, 0, err
		}
		argExprs = append(argExprs, expr)
	}
	for i, j := 0, len(argExprs)-1; i < j; i, j = i+1, j-1 {
		argExprs[i], argExprs[j] = argExprs[j], argExprs[i]
	}
	for i, arg := range argExprs {
		if _, star := arg.(*StarExprDesc); star && (funcName != "count" || len(argExprs) != 1 || i != 0) {
			return nil, 0, arg.ErrorAtPosition("'*' is only allowed as the single argument of count")
		}
	}
	fe := &FunctionExprDesc{FunctionName: funcName, ArgExprs: argExprs, Aggregate: aggregate}
	fe.tokenInfo.set(funcTok, input)
	return fe, pos, nil
}

func incompleteExpressionError(tok lexer.Token, input string) error {
	return errorAtPosition("incomplete expression", tok.Pos, input)
}

func (p *Parser) createBinaryExpression(tokens []lexer.Token, pos int, input string) (ExprDesc, int, error) {
	tok := tokens[pos]
	be := &BinaryOperatorExprDesc{Op: tok.Value}
	be.tokenInfo.set(tok, input)
	if pos == 0 {
		return nil, 0, incompleteExpressionError(tok, input)
	}
	right, pos, err := p.parseExpression(tokens, pos-1, input)
	if err != nil {
		return nil, 0, err
	}
	if pos < 0 {
		return nil, 0, incompleteExpressionError(tok, input)
	}
	left, pos, err := p.parseExpression(tokens, pos, input)
	if err != nil {
		return nil, 0, err
	}
	be.Left = left
	be.Right = right
	return be, pos, nil
}

func (p *Parser) createUnaryExpression(tokens []lexer.Token, pos int, input string) (ExprDesc, int, error) {
	tok := tokens[pos]
	ue := &UnaryOperatorExprDesc{Op: tok.Value}
	ue.tokenInfo.set(tok, input)
	if pos == 0 {
		return nil, 0, incompleteExpressionError(tok, input)
	}
	operand, pos, err := p.parseExpression(tokens, pos-1, input)
	if err != nil {
		return nil, 0, err
	}
	ue.Operand = operand
	return ue, pos, nil
}

type tokenStack struct {
	tokens []lexer.Token
}

func (t *tokenStack) push(token lexer.Token) {
	t.tokens = append(t.tokens, token)
}

func (t *tokenStack) pop() (lexer.Token, bool) {
	if len(t.tokens) == 0 {
		return lexer.Token{}, false
	}
	last := len(t.tokens) - 1
	r := t.tokens[last]
	t.tokens = t.tokens[:last]
	return r, true
}

func (t *tokenStack) peek() (lexer.Token, bool) {
	if len(t.tokens) == 0 {
		return lexer.Token{}, false
	}
	return t.tokens[len(t.tokens)-1], true
}

func getPrecedence(tok lexer.Token) int {
	if tok.Type == UnaryOpTokenType {
		return unaryPrecedence
	}
	prec, ok := Operators[tok.Value]
	if !ok {
		panic(fmt.Sprintf("unknown operator %s", tok.Value))
	}
	return prec
}

// ExtractAlias splits `expr as alias`. It returns false if the alias is not an identifier.
func ExtractAlias(exprDesc ExprDesc) (bool, ExprDesc, string, ExprDesc) {
	binary, isBinary := exprDesc.(*BinaryOperatorExprDesc)
	if !isBinary || binary.Op != "as" {
		return true, exprDesc, "", nil
	}
	identExpr, isIdent := binary.Right.(*IdentifierExprDesc)
	if !isIdent {
		return false, nil, "", nil
	}
	return true, binary.Left, identExpr.IdentifierName, identExpr
}

func containsAlias(e ExprDesc) bool {
	found := false
	Walk(e, func(desc ExprDesc) {
		if b, ok := desc.(*BinaryOperatorExprDesc); ok && b.Op == "as" {
			found = true
		}
	})
	return found
}

func containsAggregate(e ExprDesc) bool {
	found := false
	Walk(e, func(desc ExprDesc) {
		if f, ok := desc.(*FunctionExprDesc); ok && f.Aggregate {
			found = true
		}
	})
	return found
}

// Walk visits e and all its sub-expressions, parents before children.
func Walk(e ExprDesc, visit func(ExprDesc)) {
	visit(e)
	switch t := e.(type) {
	case *BinaryOperatorExprDesc:
		Walk(t.Left, visit)
		Walk(t.Right, visit)
	case *UnaryOperatorExprDesc:
		Walk(t.Operand, visit)
	case *FunctionExprDesc:
		for _, arg := range t.ArgExprs {
			Walk(arg, visit)
		}
	}
}

/*
Precedence follows the Go language specification. Unary operators bind tightest, then five levels of binary
operators:

Precedence    Operator

	5             *  /  %
	4             +  -
	3             ==  !=  <  <=  >  >=
	2             &&
	1             ||

`as` binds loosest so that it applies to a whole select expression.
*/
const unaryPrecedence = 7

var Operators = map[string]int{
	"/":  5,
	"%":  5,
	"*":  5,
	"+":  4,
	"-":  4,
	"==": 3,
	"!=": 3,
	"<=": 3,
	">=": 3,
	"<":  3,
	">":  3,
	"&&": 2,
	"||": 1,
	"as": 0,
}

var AggregateFunctions = map[string]struct{}{
	"count":                 {},
	"sum":                   {},
	"min":                   {},
	"max":                   {},
	"avg":                   {},
	"approx_count_distinct": {},
}

var BuiltinFunctions = map[string]struct{}{
	"lower":     {},
	"upper":     {},
	"trim":      {},
	"len":       {},
	"concat":    {},
	"abs":       {},
	"coalesce":  {},
	"if":        {},
	"is_null":   {},
	"to_int":    {},
	"to_float":  {},
	"to_string": {},
}
