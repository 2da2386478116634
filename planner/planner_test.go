package planner

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/tablerepo"
	"github.com/spirit-labs/tekagg/tasks"
	"github.com/spirit-labs/tekagg/testutils"
	"github.com/spirit-labs/tekagg/types"
	"github.com/stretchr/testify/require"
)

func salesRepo(t *testing.T, partitions [][]types.Row) *tablerepo.Repository {
	table, err := tablerepo.NewMemTable("sales", []string{"region", "amount"}, partitions)
	require.NoError(t, err)
	provider := tablerepo.NewMemProvider()
	provider.AddTable(table)
	repo := tablerepo.NewRepository()
	repo.AddProvider(provider)
	return repo
}

var salesPartitions = [][]types.Row{
	{types.MustRow("eu", 10), types.MustRow("us", 5)},
	{types.MustRow("eu", 1), types.MustRow("apac", 7)},
	{types.MustRow("us", 2)},
}

func newExecCtx(t *testing.T, cacheDir string) *execution.DefaultContext {
	cache, err := qcache.NewCache(cacheDir, 0, nil)
	require.NoError(t, err)
	execCtx, err := execution.NewContext(context.Background(), cache, 4)
	require.NoError(t, err)
	t.Cleanup(execCtx.Release)
	return execCtx
}

func run(t *testing.T, p *Planner, query *AggregateQuery, execCtx execution.Context) []types.Row {
	agg, _, err := p.Build(context.Background(), query, execCtx)
	require.NoError(t, err)
	var rows []types.Row
	require.NoError(t, tasks.Execute(agg, execCtx, func(row types.Row) bool {
		rows = append(rows, row)
		return true
	}))
	return rows
}

func TestBuildMergesPartitions(t *testing.T) {
	p := NewPlanner(salesRepo(t, salesPartitions), nil)
	query := &AggregateQuery{Table: "sales", SelectList: "region, count(*) as n, sum(amount)", GroupList: "region"}
	execCtx := newExecCtx(t, "")
	agg, plan, err := p.Build(context.Background(), query, execCtx)
	require.NoError(t, err)
	require.Equal(t, tasks.SourceKindMerge, agg.Kind())
	require.Equal(t, []string{"region", "n", "sum(amount)"}, plan.ColumnNames)
	require.Equal(t, 4, execCtx.NumSubtasksTotal())

	var rows []types.Row
	require.NoError(t, tasks.Execute(agg, execCtx, func(row types.Row) bool {
		rows = append(rows, row)
		return true
	}))
	require.Equal(t, []types.Row{
		types.MustRow("apac", 1, 7),
		types.MustRow("eu", 2, 11),
		types.MustRow("us", 2, 7),
	}, rows)
	require.Equal(t, execCtx.NumSubtasksTotal(), execCtx.NumSubtasksCompleted())
}

func TestBuildSinglePartitionIsNotMerged(t *testing.T) {
	p := NewPlanner(salesRepo(t, salesPartitions), nil)
	execCtx := newExecCtx(t, "")
	agg, _, err := p.Build(context.Background(), &AggregateQuery{
		Table: "sales", SelectList: "max(amount)", Partitions: []int{1},
	}, execCtx)
	require.NoError(t, err)
	require.Equal(t, tasks.SourceKindLocal, agg.Kind())
	require.Equal(t, 2, execCtx.NumSubtasksTotal())
}

func TestBuildNoPartitionsIsEmpty(t *testing.T) {
	p := NewPlanner(salesRepo(t, nil), nil)
	execCtx := newExecCtx(t, "")
	agg, plan, err := p.Build(context.Background(), &AggregateQuery{
		Table: "sales", SelectList: "region, count(*)", GroupList: "region",
	}, execCtx)
	require.NoError(t, err)
	require.Equal(t, tasks.SourceKindEmpty, agg.Kind())
	require.Equal(t, 2, len(plan.ColumnNames))
	require.Equal(t, 0, len(run(t, p, &AggregateQuery{Table: "sales", SelectList: "count(*)"}, execCtx)))
}

func TestFingerprint(t *testing.T) {
	p := NewPlanner(salesRepo(t, salesPartitions), nil)
	compile := func(selectList string, groupList string) string {
		plan, err := p.Compile(&AggregateQuery{Table: "sales", SelectList: selectList, GroupList: groupList})
		require.NoError(t, err)
		return plan.Fingerprint
	}
	fp := compile("region, sum(amount)", "region")
	require.Equal(t, fp, compile("region,   sum(amount)", "region"))
	// aliases name output columns, they do not change the computation
	require.Equal(t, fp, compile("region, sum(amount) as total", "region"))
	require.NotEqual(t, fp, compile("region, sum(amount)", "lower(region)"))
	require.NotEqual(t, fp, compile("region, max(amount)", "region"))
}

func TestCompileErrors(t *testing.T) {
	p := NewPlanner(salesRepo(t, salesPartitions), nil)
	_, err := p.Compile(&AggregateQuery{Table: "missing", SelectList: "count(*)"})
	require.True(t, errors.IsTekaggErrorWithCode(err, errors.NotFound))

	_, err = p.Compile(&AggregateQuery{Table: "sales", SelectList: "sum(price)"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown column 'price'")

	_, err = p.Compile(&AggregateQuery{Table: "sales", SelectList: "count(*)", GroupList: "sum(amount)"})
	require.Error(t, err)
}

func TestRemoteWithoutClient(t *testing.T) {
	p := NewPlanner(salesRepo(t, salesPartitions), nil)
	_, _, err := p.Build(context.Background(), &AggregateQuery{
		Table: "sales", SelectList: "count(*)", RemoteAddresses: []string{"localhost:1"},
	}, newExecCtx(t, ""))
	require.Error(t, err)
}

func TestBuildWithRemoteSources(t *testing.T) {
	remoteRepo := salesRepo(t, [][]types.Row{{types.MustRow("eu", 100), types.MustRow("latam", 3)}})
	remotePlanner := NewPlanner(remoteRepo, nil)
	var lock sync.Mutex
	var addresses []string
	remoteFn := func(ctx context.Context, req *tasks.RemoteAggregateRequest) (io.ReadCloser, error) {
		lock.Lock()
		addresses = append(addresses, req.Address)
		lock.Unlock()
		execCtx, err := execution.NewContext(ctx, nil, 2)
		if err != nil {
			return nil, err
		}
		defer execCtx.Release()
		agg, plan, err := remotePlanner.Build(ctx, &AggregateQuery{
			Table: req.Table, SelectList: req.SelectList, GroupList: req.GroupList, Partitions: req.Partitions,
		}, execCtx)
		if err != nil {
			return nil, err
		}
		if plan.Fingerprint != req.PlanFingerprint {
			return nil, errors.Errorf("fingerprint mismatch %s %s", plan.Fingerprint, req.PlanFingerprint)
		}
		buff := &bytes.Buffer{}
		if err := tasks.ExecuteRemote(agg, execCtx, buff); err != nil {
			return nil, err
		}
		return io.NopCloser(buff), nil
	}
	// the local side only holds the schema
	p := NewPlanner(salesRepo(t, salesPartitions), remoteFn)
	rows := run(t, p, &AggregateQuery{
		Table:           "sales",
		SelectList:      "region, sum(amount)",
		GroupList:       "region",
		RemoteAddresses: []string{"r1", "r2"},
	}, newExecCtx(t, ""))
	sort.Strings(addresses)
	require.Equal(t, []string{"r1", "r2"}, addresses)
	testutils.RequireSameRows(t, []types.Row{
		types.MustRow("apac", 7),
		types.MustRow("eu", 211),
		types.MustRow("latam", 6),
		types.MustRow("us", 7),
	}, rows)
}

func TestCachedRerun(t *testing.T) {
	dir := t.TempDir()
	p := NewPlanner(salesRepo(t, salesPartitions), nil)
	query := &AggregateQuery{Table: "sales", SelectList: "region, avg(amount)", GroupList: "region"}
	first := run(t, p, query, newExecCtx(t, dir))
	second := run(t, p, query, newExecCtx(t, dir))
	require.Equal(t, first, second)
}
