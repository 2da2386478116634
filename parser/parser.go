package parser

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/spirit-labs/tekagg/errors"
)

var lex = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "BinaryOp", Pattern: `(?:==|!=|<=|>=|&&|\|\||[-+\*/%<>])`},
	{Name: "UnaryOp", Pattern: `!`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.]*`},
	{Name: "ListSeparator", Pattern: `,`},
	{Name: "LParens", Pattern: `\(`},
	{Name: "RParens", Pattern: `\)`},
	{Name: "Float", Pattern: `(?:\d+\.\d*|\.\d+)(?:[eE][-+]?\d+)?|\d+[eE][-+]?\d+`},
	{Name: "Integer", Pattern: `\d+`},
	{Name: "StringLiteral", Pattern: `"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'`},
	{Name: "Whitespace", Pattern: `[ \t\n\r]+`},
})

var FloatTokenType lexer.TokenType
var IntegerTokenType lexer.TokenType
var IdentTokenType lexer.TokenType
var ListSeparatorTokenType lexer.TokenType
var LParensTokenType lexer.TokenType
var RParensTokenType lexer.TokenType
var BinaryOpTokenType lexer.TokenType
var StringLiteralTokenType lexer.TokenType
var WhitespaceTokenType lexer.TokenType
var UnaryOpTokenType lexer.TokenType

func init() {
	FloatTokenType = lex.Symbols()["Float"]
	IntegerTokenType = lex.Symbols()["Integer"]
	IdentTokenType = lex.Symbols()["Ident"]
	ListSeparatorTokenType = lex.Symbols()["ListSeparator"]
	LParensTokenType = lex.Symbols()["LParens"]
	RParensTokenType = lex.Symbols()["RParens"]
	BinaryOpTokenType = lex.Symbols()["BinaryOp"]
	StringLiteralTokenType = lex.Symbols()["StringLiteral"]
	WhitespaceTokenType = lex.Symbols()["Whitespace"]
	UnaryOpTokenType = lex.Symbols()["UnaryOp"]
}

func NewParser() *Parser {
	return &Parser{}
}

type Parser struct {
}

// SelectItemDesc is one entry of a select list: an expression with an optional alias. Text is the source text
// of the expression, used as the column name when there is no alias.
type SelectItemDesc struct {
	Expr  ExprDesc
	Alias string
	Text  string
}

func (s *SelectItemDesc) ColumnName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Text
}

// ParseSelectList parses a comma separated list of expressions, each optionally followed by `as <alias>`.
func (p *Parser) ParseSelectList(input string) ([]SelectItemDesc, error) {
	context, err := p.newContext(input)
	if err != nil {
		return nil, err
	}
	exprs, allTokens, err := p.ParseExpressionList(context)
	if err != nil {
		return nil, err
	}
	items := make([]SelectItemDesc, 0, len(exprs))
	for i, e := range exprs {
		ok, inner, alias, aliasDesc := ExtractAlias(e)
		if !ok {
			return nil, e.ErrorAtPosition("alias must be an identifier")
		}
		if containsAlias(inner) {
			return nil, e.ErrorAtPosition("'as' can only be used once, at the end of a select expression")
		}
		tokens := allTokens[i]
		if aliasDesc != nil {
			// drop `as <alias>` from the source text
			tokens = tokens[:len(tokens)-2]
		}
		items = append(items, SelectItemDesc{
			Expr:  inner,
			Alias: alias,
			Text:  tokensText(input, tokens),
		})
	}
	return items, nil
}

// ParseGroupList parses a comma separated list of group expressions. Aliases are not allowed.
func (p *Parser) ParseGroupList(input string) ([]ExprDesc, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	context, err := p.newContext(input)
	if err != nil {
		return nil, err
	}
	exprs, _, err := p.ParseExpressionList(context)
	if err != nil {
		return nil, err
	}
	for _, e := range exprs {
		if containsAlias(e) {
			return nil, e.ErrorAtPosition("group expressions cannot have an alias")
		}
		if containsAggregate(e) {
			return nil, e.ErrorAtPosition("aggregate functions are not allowed in group expressions")
		}
	}
	return exprs, nil
}

func (p *Parser) newContext(input string) (*ParseContext, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.NewTekaggErrorf(errors.ParseError, "expression list is empty")
	}
	tokens, err := Lex(input, true)
	if err != nil {
		return nil, err
	}
	return NewParseContext(p, input, tokens), nil
}

func tokensText(input string, tokens []lexer.Token) string {
	if len(tokens) == 0 {
		return ""
	}
	first := tokens[0]
	last := tokens[len(tokens)-1]
	end := last.Pos.Offset + len(last.Value)
	return strings.TrimSpace(input[first.Pos.Offset:end])
}

func Lex(input string, removeWhitespace bool) ([]lexer.Token, error) {
	// We Lex all tokens up-front, this makes parsing simpler as we know how many tokens there are.
	l, err := lex.Lex("", strings.NewReader(input))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tokens := make([]lexer.Token, 0, 20)
	for {
		token, err := l.Next()
		if err != nil {
			var le *lexer.Error
			if errors.As(err, &le) {
				return nil, errorAtPosition("invalid expression", le.Pos, input)
			}
			return nil, errors.WithStack(err)
		}
		if token.Type == lexer.EOF {
			break
		}
		if token.Type == IdentTokenType && strings.EqualFold(token.Value, "as") {
			token.Type = BinaryOpTokenType
			token.Value = "as"
		}
		if !removeWhitespace || token.Type != WhitespaceTokenType {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func lineWithPosHighlight(input string, pos lexer.Position) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(input, "\n")
	line := lines[pos.Line-1]
	line = strings.ReplaceAll(line, "\t", " ")
	line = strings.ReplaceAll(line, "\r", " ")
	sb := strings.Builder{}
	for i := 0; i < pos.Column-1; i++ {
		sb.WriteRune(' ')
	}
	sb.WriteRune('^')
	return fmt.Sprintf("%s\n%s", line, sb.String())
}

func errorAtPosition(msg string, pos lexer.Position, input string) error {
	return errors.NewParseError(MessageWithPosition(msg, pos, input))
}

func MessageWithPosition(msg string, pos lexer.Position, input string) string {
	return fmt.Sprintf("%s (line %d column %d):\n%s", msg, pos.Line, pos.Column, lineWithPosHighlight(input, pos))
}

func foundUnexpectedTokenError(expected string, token lexer.Token, input string) error {
	return errorAtPosition(fmt.Sprintf(`expected %s but found '%s'`, expected, token.Value), token.Pos, input)
}

type ParseContext struct {
	parser *Parser
	input  string
	tokens []lexer.Token
	pos    int
}

func NewParseContext(parser *Parser, input string, tokens []lexer.Token) *ParseContext {
	return &ParseContext{
		parser: parser,
		input:  input,
		tokens: tokens,
	}
}

func (pc *ParseContext) HasNext() bool {
	return pc.pos != len(pc.tokens)
}

func (pc *ParseContext) NextToken() (lexer.Token, bool) {
	if pc.pos == len(pc.tokens) {
		return lexer.Token{}, false
	}
	tok := pc.tokens[pc.pos]
	pc.pos++
	return tok, true
}

func (pc *ParseContext) PeekToken() (lexer.Token, bool) {
	return pc.PeekTokenAt(0)
}

func (pc *ParseContext) PeekTokenAt(offset int) (lexer.Token, bool) {
	if pc.pos+offset >= len(pc.tokens) {
		return lexer.Token{}, false
	}
	return pc.tokens[pc.pos+offset], true
}
