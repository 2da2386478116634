package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spirit-labs/tekagg/qcache"
	"github.com/stretchr/testify/require"
)

func TestRunAsyncBeyondPoolSize(t *testing.T) {
	ctx, err := NewContext(context.Background(), nil, 2)
	require.NoError(t, err)
	defer ctx.Release()

	release := make(chan struct{})
	var started sync.WaitGroup
	var done sync.WaitGroup
	var count atomic.Int64
	for i := 0; i < 10; i++ {
		started.Add(1)
		done.Add(1)
		ctx.RunAsync(func() {
			defer done.Done()
			started.Done()
			<-release
			count.Add(1)
		})
	}
	// all ten run concurrently even though the pool only has two workers
	started.Wait()
	close(release)
	done.Wait()
	require.Equal(t, int64(10), count.Load())
}

func TestSubtaskCounts(t *testing.T) {
	ctx, err := NewContext(context.Background(), nil, 1)
	require.NoError(t, err)
	defer ctx.Release()
	ctx.IncrNumSubtasksTotal(3)
	ctx.IncrNumSubtasksCompleted(1)
	ctx.IncrNumSubtasksCompleted(2)
	require.Equal(t, 3, ctx.NumSubtasksTotal())
	require.Equal(t, 3, ctx.NumSubtasksCompleted())
}

func TestCacheDir(t *testing.T) {
	ctx, err := NewContext(context.Background(), nil, 1)
	require.NoError(t, err)
	require.Equal(t, "", ctx.CacheDir())

	dir := t.TempDir()
	cache, err := qcache.NewCache(dir, 0, nil)
	require.NoError(t, err)
	ctx, err = NewContext(context.Background(), cache, 1)
	require.NoError(t, err)
	require.Equal(t, dir, ctx.CacheDir())
	require.Same(t, cache, ctx.Cache())
}
