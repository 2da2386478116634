package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/spirit-labs/tekagg/execution"
	"github.com/spirit-labs/tekagg/expr"
	"github.com/spirit-labs/tekagg/parser"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/types"
	"github.com/spirit-labs/tekagg/vm"
	"github.com/stretchr/testify/require"
)

var testColumns = []string{"region", "amount"}

type sliceSource struct {
	name    string
	rows    []types.Row
	noKey   bool
	scanErr error
	scans   atomic.Int64
}

func (s *sliceSource) ColumnNames() []string {
	return testColumns
}

func (s *sliceSource) CacheKey() (qcache.SHA1Hash, bool) {
	if s.noKey {
		return qcache.SHA1Hash{}, false
	}
	return qcache.ComputeSHA1String(s.name), true
}

func (s *sliceSource) Scan(ctx context.Context, fn func(row types.Row) (bool, error)) error {
	s.scans.Add(1)
	if s.scanErr != nil {
		return s.scanErr
	}
	for _, row := range s.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		cont, err := fn(row)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func regionRows(n int) []types.Row {
	regions := []string{"eu", "us", "apac", "latam"}
	rows := make([]types.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = types.MustRow(regions[i%len(regions)], i)
	}
	return rows
}

type testPlan struct {
	columnNames []string
	programs    []vm.Program
	groupExprs  []expr.Expression
	fingerprint string
}

func compilePlan(t *testing.T, selectList string, groupList string) *testPlan {
	p := parser.NewParser()
	items, err := p.ParseSelectList(selectList)
	require.NoError(t, err)
	programs, err := vm.NewCompiler().CompileSelectList(items, testColumns)
	require.NoError(t, err)
	groupDescs, err := p.ParseGroupList(groupList)
	require.NoError(t, err)
	factory := &expr.ExpressionFactory{}
	groupExprs, err := factory.CreateExpressions(groupDescs, testColumns)
	require.NoError(t, err)
	names := make([]string, len(items))
	for i := range items {
		names[i] = items[i].ColumnName()
	}
	return &testPlan{
		columnNames: names,
		programs:    programs,
		groupExprs:  groupExprs,
		fingerprint: fmt.Sprintf("%s/%s", vm.ProgramsFingerprint(programs), groupList),
	}
}

func (p *testPlan) groupBy(source RowSource) *GroupBy {
	return NewGroupBy(source, p.columnNames, p.programs, p.groupExprs, p.fingerprint)
}

func newExecCtx(t *testing.T, cacheDir string) *execution.DefaultContext {
	cache, err := qcache.NewCache(cacheDir, 0, nil)
	require.NoError(t, err)
	ctx, err := execution.NewContext(context.Background(), cache, 4)
	require.NoError(t, err)
	t.Cleanup(ctx.Release)
	return ctx
}

func execute(t *testing.T, agg Aggregator, execCtx execution.Context) []types.Row {
	var rows []types.Row
	err := Execute(agg, execCtx, func(row types.Row) bool {
		rows = append(rows, row)
		return true
	})
	require.NoError(t, err)
	return rows
}

// accumulateAndCollect runs agg against groups the test owns, so that leaks can be checked.
func accumulateAndCollect(t *testing.T, agg Aggregator, execCtx execution.Context) []types.Row {
	groups := NewGroups()
	require.NoError(t, agg.Accumulate(groups, execCtx))
	var rows []types.Row
	require.NoError(t, agg.Result(groups, func(row types.Row) bool {
		rows = append(rows, row)
		return true
	}))
	agg.Free(groups)
	require.Equal(t, 0, groups.Live())
	require.NoError(t, groups.Close())
	return rows
}

func sortRows(rows []types.Row) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].String() < rows[j].String()
	})
}
