package tasks

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/stretchr/testify/require"
)

func remoteFnFor(t *testing.T, agg Aggregator) RemoteExecuteFn {
	return func(ctx context.Context, req *RemoteAggregateRequest) (io.ReadCloser, error) {
		var buff bytes.Buffer
		if err := ExecuteRemote(agg, newExecCtx(t, ""), &buff); err != nil {
			return nil, err
		}
		return io.NopCloser(&buff), nil
	}
}

func TestRemoteGroupBy(t *testing.T) {
	plan := compilePlan(t, "region, count(*), sum(amount)", "region")
	local := plan.groupBy(&sliceSource{name: "all", rows: regionRows(100)})
	expected := accumulateAndCollect(t, local, newExecCtx(t, ""))

	remote := NewRemoteGroupBy(plan.columnNames, plan.programs, &RemoteAggregateRequest{Address: "node-1"},
		remoteFnFor(t, local))
	require.Equal(t, SourceKindRemote, remote.Kind())
	execCtx := newExecCtx(t, "")
	require.Equal(t, expected, accumulateAndCollect(t, remote, execCtx))
	require.Equal(t, 1, execCtx.NumSubtasksCompleted())
}

func TestRemoteGroupByMismatchIsFatal(t *testing.T) {
	two := compilePlan(t, "region, count(*)", "region")
	three := compilePlan(t, "region, count(*), sum(amount)", "region")
	remoteSide := two.groupBy(&sliceSource{name: "all", rows: regionRows(10)})

	remote := NewRemoteGroupBy(three.columnNames, three.programs, &RemoteAggregateRequest{Address: "node-1"},
		remoteFnFor(t, remoteSide))
	groups := NewGroups()
	err := remote.Accumulate(groups, newExecCtx(t, ""))
	require.Error(t, err)
	require.True(t, errors.IsTekaggErrorWithCode(err, errors.RuntimeError))
	require.True(t, strings.HasPrefix(err.Error(), "RemoteGroupBy failed"))
	remote.Free(groups)
	require.Equal(t, 0, groups.Live())
}

func TestRemoteGroupByCorruptStream(t *testing.T) {
	plan := compilePlan(t, "region, count(*)", "region")
	remote := NewRemoteGroupBy(plan.columnNames, plan.programs, &RemoteAggregateRequest{Address: "node-1"},
		func(ctx context.Context, req *RemoteAggregateRequest) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader([]byte{5, 2, 3, 'a'})), nil
		})
	groups := NewGroups()
	err := remote.Accumulate(groups, newExecCtx(t, ""))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "RemoteGroupBy failed"))
	remote.Free(groups)
	require.Equal(t, 0, groups.Live())
}

func TestRemoteGroupByCallError(t *testing.T) {
	plan := compilePlan(t, "region, count(*)", "region")
	remote := NewRemoteGroupBy(plan.columnNames, plan.programs, &RemoteAggregateRequest{Address: "node-1"},
		func(ctx context.Context, req *RemoteAggregateRequest) (io.ReadCloser, error) {
			return nil, errors.NewUnavailableErrorf("connection refused")
		})
	groups := NewGroups()
	err := remote.Accumulate(groups, newExecCtx(t, ""))
	require.True(t, errors.IsTekaggErrorWithCode(err, errors.Unavailable))
	remote.Free(groups)
}

func TestEmptyTableEncoding(t *testing.T) {
	empty := &EmptyTable{}
	var buff bytes.Buffer
	require.NoError(t, empty.Encode(NewGroups(), &buff))
	require.Equal(t, []byte{0, 0}, buff.Bytes())
	ok, err := empty.Decode(NewGroups(), bytes.NewReader(buff.Bytes()))
	require.NoError(t, err)
	require.True(t, ok)
}
