//go:build !release

package testutils

import (
	"sort"
	"testing"

	"github.com/spirit-labs/tekagg/types"
	"github.com/stretchr/testify/require"
)

// SortRows orders rows by their string form, for assertions which do not care about row order.
func SortRows(rows []types.Row) []types.Row {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].String() < rows[j].String()
	})
	return rows
}

// RequireSameRows fails the test unless expected and actual hold the same rows in any order.
func RequireSameRows(t *testing.T, expected []types.Row, actual []types.Row) {
	t.Helper()
	exp := SortRows(append([]types.Row(nil), expected...))
	act := SortRows(append([]types.Row(nil), actual...))
	require.Equal(t, exp, act)
}
