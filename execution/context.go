package execution

import (
	"context"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/spirit-labs/tekagg/errors"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/qcache"
)

// Context is passed to every task of one query.
type Context interface {
	Ctx() context.Context
	// CacheDir returns the cache directory, or "" if caching is disabled.
	CacheDir() string
	Cache() *qcache.Cache
	IncrNumSubtasksTotal(n int)
	IncrNumSubtasksCompleted(n int)
	NumSubtasksCompleted() int
	NumSubtasksTotal() int
	// RunAsync runs fn on another goroutine. It never blocks waiting for a worker.
	RunAsync(fn func())
}

type DefaultContext struct {
	ctx       context.Context
	cache     *qcache.Cache
	pool      *ants.Pool
	completed atomic.Int64
	total     atomic.Int64
}

// NewContext creates a context whose async work runs on a pool of numWorkers goroutines. cache may be nil.
func NewContext(ctx context.Context, cache *qcache.Cache, numWorkers int) (*DefaultContext, error) {
	pool, err := ants.NewPool(numWorkers, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &DefaultContext{
		ctx:   ctx,
		cache: cache,
		pool:  pool,
	}, nil
}

func (d *DefaultContext) Ctx() context.Context {
	return d.ctx
}

func (d *DefaultContext) CacheDir() string {
	if d.cache == nil {
		return ""
	}
	return d.cache.Dir()
}

func (d *DefaultContext) Cache() *qcache.Cache {
	return d.cache
}

func (d *DefaultContext) IncrNumSubtasksTotal(n int) {
	d.total.Add(int64(n))
}

func (d *DefaultContext) IncrNumSubtasksCompleted(n int) {
	completed := d.completed.Add(int64(n))
	if log.DebugEnabled {
		log.Debugf("completed %d of %d subtasks", completed, d.total.Load())
	}
}

func (d *DefaultContext) NumSubtasksCompleted() int {
	return int(d.completed.Load())
}

func (d *DefaultContext) NumSubtasksTotal() int {
	return int(d.total.Load())
}

func (d *DefaultContext) RunAsync(fn func()) {
	err := d.pool.Submit(fn)
	if err == nil {
		return
	}
	// A full pool must not block: a merge nested in another merge waits on its own sources from inside a
	// pool worker.
	if !errors.Is(err, ants.ErrPoolOverload) {
		log.Warnf("failed to submit to worker pool, running on new goroutine: %v", err)
	}
	go fn()
}

// Release stops the worker pool. Work already submitted still runs to completion.
func (d *DefaultContext) Release() {
	d.pool.Release()
}
