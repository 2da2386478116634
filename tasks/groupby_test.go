package tasks

import (
	"bytes"
	"os"
	"testing"

	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/types"
	"github.com/stretchr/testify/require"
)

func TestGroupBySinglePass(t *testing.T) {
	plan := compilePlan(t, "region, count(*) as n, sum(amount) as total", "region")
	source := &sliceSource{name: "all", rows: regionRows(100)}
	rows := accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, ""))
	require.Equal(t, []types.Row{
		types.MustRow("apac", 25, 1250),
		types.MustRow("eu", 25, 1200),
		types.MustRow("latam", 25, 1275),
		types.MustRow("us", 25, 1225),
	}, rows)
	require.Equal(t, []string{"region", "n", "total"}, plan.groupBy(source).ColumnNames())
}

func TestGroupByNoGroupExpressions(t *testing.T) {
	plan := compilePlan(t, "count(*), max(amount)", "")
	source := &sliceSource{name: "all", rows: regionRows(10)}
	rows := accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, ""))
	require.Equal(t, []types.Row{types.MustRow(10, 9)}, rows)
}

func TestGroupKeysDistinguishIntAndFloat(t *testing.T) {
	plan := compilePlan(t, "amount, count(*)", "amount")
	source := &sliceSource{name: "mixed", rows: []types.Row{
		types.MustRow("eu", 1), types.MustRow("eu", 1.0), types.MustRow("eu", 1),
	}}
	rows := accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, ""))
	sortRows(rows)
	require.Equal(t, []types.Row{types.MustRow(1.0, 1), types.MustRow(1, 2)}, rows)
}

func TestResultStopsEarly(t *testing.T) {
	plan := compilePlan(t, "region, count(*)", "region")
	agg := plan.groupBy(&sliceSource{name: "all", rows: regionRows(100)})
	groups := NewGroups()
	defer agg.Free(groups)
	require.NoError(t, agg.Accumulate(groups, newExecCtx(t, "")))
	count := 0
	require.NoError(t, agg.Result(groups, func(row types.Row) bool {
		count++
		return count < 2
	}))
	require.Equal(t, 2, count)
}

func TestFreeIsIdempotent(t *testing.T) {
	plan := compilePlan(t, "region, count(*)", "region")
	agg := plan.groupBy(&sliceSource{name: "all", rows: regionRows(8)})
	groups := NewGroups()
	require.NoError(t, agg.Accumulate(groups, newExecCtx(t, "")))
	require.Equal(t, 8, groups.Live())
	agg.Free(groups)
	agg.Free(groups)
	require.Equal(t, 0, groups.Live())
	require.Equal(t, 0, groups.Len())
	require.NoError(t, groups.Close())
}

func TestScanErrorPropagates(t *testing.T) {
	plan := compilePlan(t, "region, sum(region)", "region")
	agg := plan.groupBy(&sliceSource{name: "all", rows: regionRows(8)})
	groups := NewGroups()
	err := agg.Accumulate(groups, newExecCtx(t, ""))
	require.Error(t, err)
	require.Equal(t, "sum cannot be applied to string", err.Error())
	agg.Free(groups)
	require.Equal(t, 0, groups.Live())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	plan := compilePlan(t, "region, count(*), sum(amount), avg(amount), min(amount), approx_count_distinct(amount)", "region")
	agg := plan.groupBy(&sliceSource{name: "all", rows: regionRows(1000)})
	execCtx := newExecCtx(t, "")
	expected := accumulateAndCollect(t, agg, execCtx)

	groups := NewGroups()
	require.NoError(t, agg.Accumulate(groups, execCtx))
	var buff bytes.Buffer
	require.NoError(t, agg.Encode(groups, &buff))
	agg.Free(groups)

	decoded := NewGroups()
	ok, err := agg.Decode(decoded, bytes.NewReader(buff.Bytes()))
	require.NoError(t, err)
	require.True(t, ok)
	var actual []types.Row
	require.NoError(t, agg.Result(decoded, func(row types.Row) bool {
		actual = append(actual, row)
		return true
	}))
	agg.Free(decoded)
	require.Equal(t, expected, actual)
}

func TestDecodeHeader(t *testing.T) {
	plan := compilePlan(t, "region, count(*)", "region")
	agg := plan.groupBy(&sliceSource{name: "all", rows: regionRows(4)})
	groups := NewGroups()
	require.NoError(t, agg.Accumulate(groups, newExecCtx(t, "")))
	var buff bytes.Buffer
	require.NoError(t, agg.Encode(groups, &buff))
	agg.Free(groups)

	b := buff.Bytes()
	numGroups, off, err := encoding.ReadVarUint(b, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(4), numGroups)
	numExprs, _, err := encoding.ReadVarUint(b, off)
	require.NoError(t, err)
	require.Equal(t, uint64(2), numExprs)
}

func TestDecodeMismatchedExpressionCount(t *testing.T) {
	two := compilePlan(t, "region, count(*)", "region")
	three := compilePlan(t, "region, count(*), sum(amount)", "region")
	source := &sliceSource{name: "all", rows: regionRows(8)}

	groups := NewGroups()
	require.NoError(t, two.groupBy(source).Accumulate(groups, newExecCtx(t, "")))
	var buff bytes.Buffer
	require.NoError(t, two.groupBy(source).Encode(groups, &buff))
	two.groupBy(source).Free(groups)

	decoded := NewGroups()
	ok, err := three.groupBy(source).Decode(decoded, bytes.NewReader(buff.Bytes()))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, decoded.Live())
}

func TestDecodeTruncated(t *testing.T) {
	plan := compilePlan(t, "region, count(*), sum(amount)", "region")
	agg := plan.groupBy(&sliceSource{name: "all", rows: regionRows(8)})
	groups := NewGroups()
	require.NoError(t, agg.Accumulate(groups, newExecCtx(t, "")))
	var buff bytes.Buffer
	require.NoError(t, agg.Encode(groups, &buff))
	agg.Free(groups)

	b := buff.Bytes()
	decoded := NewGroups()
	_, err := agg.Decode(decoded, bytes.NewReader(b[:len(b)-3]))
	require.Error(t, err)
	agg.Free(decoded)
	require.Equal(t, 0, decoded.Live())

	decoded = NewGroups()
	_, err = agg.Decode(decoded, bytes.NewReader(append(append([]byte{}, b...), 1, 2, 3)))
	require.Error(t, err)
	agg.Free(decoded)
	require.Equal(t, 0, decoded.Live())
}

func TestDecodeIntoExistingGroupsMerges(t *testing.T) {
	plan := compilePlan(t, "region, count(*)", "region")
	agg := plan.groupBy(&sliceSource{name: "all", rows: regionRows(8)})
	groups := NewGroups()
	require.NoError(t, agg.Accumulate(groups, newExecCtx(t, "")))
	var buff bytes.Buffer
	require.NoError(t, agg.Encode(groups, &buff))
	ok, err := agg.Decode(groups, bytes.NewReader(buff.Bytes()))
	require.NoError(t, err)
	require.True(t, ok)
	var rows []types.Row
	require.NoError(t, agg.Result(groups, func(row types.Row) bool {
		rows = append(rows, row)
		return true
	}))
	agg.Free(groups)
	require.Equal(t, 0, groups.Live())
	require.Equal(t, types.MustRow("apac", 4), rows[0])
}

func TestCacheIdempotence(t *testing.T) {
	dir := t.TempDir()
	plan := compilePlan(t, "region, count(*), sum(amount)", "region")
	source := &sliceSource{name: "partition-0", rows: regionRows(100)}

	first := accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, dir))
	require.Equal(t, int64(1), source.scans.Load())
	key, ok := plan.groupBy(source).CacheKey()
	require.True(t, ok)
	_, err := os.Stat(qcache.Path(dir, key))
	require.NoError(t, err)

	second := accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, dir))
	require.Equal(t, int64(1), source.scans.Load())
	require.Equal(t, first, second)
}

func TestCacheInvalidationOnPlanChange(t *testing.T) {
	dir := t.TempDir()
	source := &sliceSource{name: "partition-0", rows: regionRows(100)}
	sumPlan := compilePlan(t, "region, sum(amount)", "region")
	maxPlan := compilePlan(t, "region, max(amount)", "region")

	k1, _ := sumPlan.groupBy(source).CacheKey()
	k2, _ := maxPlan.groupBy(source).CacheKey()
	require.NotEqual(t, qcache.Path(dir, k1), qcache.Path(dir, k2))

	sums := accumulateAndCollect(t, sumPlan.groupBy(source), newExecCtx(t, dir))
	maxes := accumulateAndCollect(t, maxPlan.groupBy(source), newExecCtx(t, dir))
	require.Equal(t, int64(2), source.scans.Load())
	require.Equal(t, types.MustRow("apac", 1250), sums[0])
	require.Equal(t, types.MustRow("apac", 98), maxes[0])
}

func TestCacheWithMismatchedExpressionCountIsIgnored(t *testing.T) {
	dir := t.TempDir()
	source := &sliceSource{name: "partition-0", rows: regionRows(100)}
	plan := compilePlan(t, "region, count(*), sum(amount)", "region")
	other := compilePlan(t, "region, count(*)", "region")

	// stored state with two expressions under the three expression plan's key
	groups := NewGroups()
	otherAgg := other.groupBy(source)
	require.NoError(t, otherAgg.Accumulate(groups, newExecCtx(t, "")))
	var buff bytes.Buffer
	require.NoError(t, otherAgg.Encode(groups, &buff))
	otherAgg.Free(groups)
	key, _ := plan.groupBy(source).CacheKey()
	require.NoError(t, qcache.WriteFileAtomic(qcache.Path(dir, key), buff.Bytes()))
	scansBefore := source.scans.Load()

	rows := accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, dir))
	require.Equal(t, scansBefore+1, source.scans.Load())
	require.Equal(t, types.MustRow("apac", 25, 1250), rows[0])

	// the entry was overwritten with usable state
	rows = accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, dir))
	require.Equal(t, scansBefore+1, source.scans.Load())
	require.Equal(t, types.MustRow("apac", 25, 1250), rows[0])
}

func TestCorruptCacheIsIgnored(t *testing.T) {
	dir := t.TempDir()
	source := &sliceSource{name: "partition-0", rows: regionRows(100)}
	plan := compilePlan(t, "region, count(*), sum(amount)", "region")
	key, _ := plan.groupBy(source).CacheKey()
	require.NoError(t, qcache.WriteFileAtomic(qcache.Path(dir, key), []byte{4, 3, 1, 'x'}))

	rows := accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, dir))
	require.Equal(t, int64(1), source.scans.Load())
	require.Equal(t, 4, len(rows))
}

func TestCorruptCacheIsInvalidated(t *testing.T) {
	dir := t.TempDir()
	plan := compilePlan(t, "region, count(*)", "region")
	source := &sliceSource{name: "partition-0", rows: regionRows(10), scanErr: errors.New("scan failed")}
	key, _ := plan.groupBy(source).CacheKey()
	path := qcache.Path(dir, key)
	require.NoError(t, qcache.WriteFileAtomic(path, []byte{4, 3, 1, 'x'}))

	// the scan fails so nothing is written back, only the invalidation can remove the entry
	groups := NewGroups()
	agg := plan.groupBy(source)
	require.Error(t, agg.Accumulate(groups, newExecCtx(t, dir)))
	agg.Free(groups)
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestNoSourceCacheKeySkipsCache(t *testing.T) {
	dir := t.TempDir()
	source := &sliceSource{name: "volatile", rows: regionRows(10), noKey: true}
	plan := compilePlan(t, "region, count(*)", "region")
	_, ok := plan.groupBy(source).CacheKey()
	require.False(t, ok)

	accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, dir))
	accumulateAndCollect(t, plan.groupBy(source), newExecCtx(t, dir))
	require.Equal(t, int64(2), source.scans.Load())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, 0, len(entries))
}

func TestExecuteCountsSubtasks(t *testing.T) {
	plan := compilePlan(t, "region, count(*)", "region")
	execCtx := newExecCtx(t, "")
	rows := execute(t, plan.groupBy(&sliceSource{name: "all", rows: regionRows(10)}), execCtx)
	require.Equal(t, 4, len(rows))
	require.Equal(t, 2, execCtx.NumSubtasksCompleted())
}
