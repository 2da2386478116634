package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareNumericAcrossKinds(t *testing.T) {
	require.Equal(t, 0, Compare(NewInt(3), NewFloat(3.0)))
	require.Equal(t, -1, Compare(NewInt(2), NewFloat(2.5)))
	require.Equal(t, 1, Compare(NewFloat(10.1), NewInt(10)))
}

func TestCompareSameKind(t *testing.T) {
	require.Equal(t, -1, Compare(NewString("a"), NewString("b")))
	require.Equal(t, 0, Compare(NewString("abc"), NewString("abc")))
	require.Equal(t, 1, Compare(NewBool(true), NewBool(false)))
	require.Equal(t, -1, Compare(NewTimestamp(100), NewTimestamp(200)))
	require.Equal(t, 0, Compare(Null, Null))
}

func TestCompareOrdersByKind(t *testing.T) {
	require.Equal(t, -1, Compare(Null, NewInt(1)))
	require.Equal(t, 1, Compare(NewString("a"), NewFloat(1)))
}

func TestCompareNaN(t *testing.T) {
	require.Equal(t, -1, Compare(NewFloat(math.NaN()), NewFloat(-1)))
	require.Equal(t, 0, Compare(NewFloat(math.NaN()), NewFloat(math.NaN())))
}

func TestEqualDistinguishesKinds(t *testing.T) {
	require.False(t, NewInt(1).Equal(NewFloat(1)))
	require.True(t, NewInt(1).Equal(NewInt(1)))
	require.True(t, Null.Equal(Value{}))
}

func TestFromAny(t *testing.T) {
	row, err := RowFromAny(int64(1), 2, 1.5, "x", true, nil)
	require.NoError(t, err)
	require.Equal(t, Row{NewInt(1), NewInt(2), NewFloat(1.5), NewString("x"), NewBool(true), Null}, row)
	require.Equal(t, []any{int64(1), int64(2), 1.5, "x", true, nil}, row.ToAny())

	_, err = FromAny(struct{}{})
	require.Error(t, err)
}

func TestValueString(t *testing.T) {
	require.Equal(t, "NULL", Null.String())
	require.Equal(t, "2.5", NewFloat(2.5).String())
	require.Equal(t, "true", NewBool(true).String())
	require.Equal(t, "1970-01-01 00:00:01.000", NewTimestamp(1000).String())
	require.Equal(t, "[1, a]", MustRow(1, "a").String())
}
