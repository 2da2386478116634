package parser

import (
	"testing"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/stretchr/testify/require"
)

func TestLexInvalidInput(t *testing.T) {
	_, err := Lex("sum(x) @ 3", true)
	require.Error(t, err)
	require.True(t, errors.IsTekaggErrorWithCode(err, errors.ParseError))
	require.Equal(t, "invalid expression (line 1 column 8):\nsum(x) @ 3\n       ^", err.Error())
}

func TestLexAsKeyword(t *testing.T) {
	tokens, err := Lex("asset AS total", true)
	require.NoError(t, err)
	require.Equal(t, 3, len(tokens))
	require.Equal(t, IdentTokenType, tokens[0].Type)
	require.Equal(t, "asset", tokens[0].Value)
	require.Equal(t, BinaryOpTokenType, tokens[1].Type)
	require.Equal(t, "as", tokens[1].Value)
}

func TestParseSelectList(t *testing.T) {
	items, err := NewParser().ParseSelectList("region, count(*) as n, sum( amount ),  lower(city) AS c")
	require.NoError(t, err)
	require.Equal(t, 4, len(items))

	require.Equal(t, "region", items[0].Expr.String())
	require.Equal(t, "region", items[0].ColumnName())

	require.Equal(t, "count(*)", items[1].Expr.String())
	require.Equal(t, "n", items[1].Alias)
	require.Equal(t, "n", items[1].ColumnName())
	require.Equal(t, "count(*)", items[1].Text)

	require.Equal(t, "", items[2].Alias)
	require.Equal(t, "sum( amount )", items[2].ColumnName())

	require.Equal(t, "c", items[3].ColumnName())
	require.Equal(t, "lower(city)", items[3].Text)
}

func TestParseSelectListErrors(t *testing.T) {
	p := NewParser()
	_, err := p.ParseSelectList("")
	require.Error(t, err)
	_, err = p.ParseSelectList("a,")
	require.Error(t, err)
	_, err = p.ParseSelectList("a as 3")
	require.Error(t, err)
	_, err = p.ParseSelectList("(a as b) + 1")
	require.Error(t, err)
	_, err = p.ParseSelectList("a)")
	require.Error(t, err)
	require.True(t, errors.IsTekaggErrorWithCode(err, errors.ParseError))
}

func TestParseGroupList(t *testing.T) {
	p := NewParser()
	exprs, err := p.ParseGroupList("region, lower(city)")
	require.NoError(t, err)
	require.Equal(t, 2, len(exprs))
	require.Equal(t, "lower(city)", exprs[1].String())

	exprs, err = p.ParseGroupList("  ")
	require.NoError(t, err)
	require.Nil(t, exprs)

	_, err = p.ParseGroupList("region as r")
	require.Error(t, err)
	_, err = p.ParseGroupList("sum(x)")
	require.Error(t, err)
}
