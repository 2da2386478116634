package tasks

import (
	"bytes"
	"context"

	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/execution"
	"github.com/spirit-labs/tekagg/expr"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/metrics"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/types"
	"github.com/spirit-labs/tekagg/vm"
)

// GroupBy aggregates the rows of a local source. When the source has a cache key and the execution context has
// a cache, the resulting group state is cached under a key derived from the source's key and the plan
// fingerprint, and later passes with the same key decode the cached state instead of scanning.
type GroupBy struct {
	GroupByExpression
	source          RowSource
	groupExprs      []expr.Expression
	planFingerprint string
}

func NewGroupBy(source RowSource, columnNames []string, programs []vm.Program, groupExprs []expr.Expression,
	planFingerprint string) *GroupBy {
	return &GroupBy{
		GroupByExpression: NewGroupByExpression(columnNames, programs),
		source:            source,
		groupExprs:        groupExprs,
		planFingerprint:   planFingerprint,
	}
}

func (g *GroupBy) Kind() SourceKind {
	return SourceKindLocal
}

// CacheKey returns false if the source has no cache key.
func (g *GroupBy) CacheKey() (qcache.SHA1Hash, bool) {
	sourceKey, ok := g.source.CacheKey()
	if !ok {
		return qcache.SHA1Hash{}, false
	}
	return qcache.CacheKey(sourceKey, g.planFingerprint), true
}

func (g *GroupBy) Accumulate(groups *Groups, execCtx execution.Context) error {
	cache := execCtx.Cache()
	cacheKey, hasKey := g.CacheKey()
	useCache := hasKey && cache.Enabled()
	if useCache && g.readCache(execCtx.Ctx(), cache, cacheKey, groups) {
		execCtx.IncrNumSubtasksCompleted(1)
		return nil
	}
	if err := g.scan(groups, execCtx.Ctx()); err != nil {
		return err
	}
	if useCache {
		g.writeCache(execCtx.Ctx(), cache, cacheKey, groups)
	}
	execCtx.IncrNumSubtasksCompleted(1)
	return nil
}

// readCache returns true if groups was populated from the cache. Missing, mismatched and corrupt entries all
// return false and leave groups untouched. Unusable entries are removed from every cache tier.
func (g *GroupBy) readCache(ctx context.Context, cache *qcache.Cache, key qcache.SHA1Hash, groups *Groups) bool {
	data, err := cache.Get(ctx, key)
	if err != nil {
		log.Warnf("failed to read cached group state %s: %v", key, err)
		return false
	}
	if data == nil {
		log.Debugf("group state cache miss for %s", key)
		return false
	}
	cached := NewGroups()
	ok, err := g.Decode(cached, bytes.NewReader(data))
	if err != nil || !ok {
		g.Free(cached)
		if err != nil {
			metrics.CacheLookups.WithLabelValues("corrupt").Inc()
			log.Warnf("ignoring corrupt cached group state %s: %v", key, err)
		} else {
			metrics.CacheLookups.WithLabelValues("mismatch").Inc()
			log.Debugf("ignoring cached group state %s with a different number of expressions", key)
		}
		if err := cache.Invalidate(ctx, key); err != nil {
			log.Warnf("failed to invalidate cached group state %s: %v", key, err)
		}
		return false
	}
	log.Debugf("group state cache hit for %s, %d groups", key, cached.Len())
	if groups.Len() == 0 && groups.Live() == 0 {
		groups.adopt(cached)
		return true
	}
	if err := g.Merge(cached, groups); err != nil {
		log.Warnf("failed to merge cached group state %s: %v", key, err)
		g.Free(cached)
		return false
	}
	g.Free(cached)
	return true
}

func (g *GroupBy) writeCache(ctx context.Context, cache *qcache.Cache, key qcache.SHA1Hash, groups *Groups) {
	var buff bytes.Buffer
	if err := g.Encode(groups, &buff); err != nil {
		log.Warnf("failed to encode group state %s: %v", key, err)
		return
	}
	if err := cache.Put(ctx, key, buff.Bytes()); err != nil {
		log.Warnf("failed to cache group state %s: %v", key, err)
	}
}

func (g *GroupBy) scan(groups *Groups, ctx context.Context) error {
	var keyBuff []byte
	groupVals := make([]types.Value, len(g.groupExprs))
	numRows := 0
	defer func() {
		metrics.RowsScanned.Add(float64(numRows))
	}()
	return g.source.Scan(ctx, func(row types.Row) (bool, error) {
		numRows++
		for i, e := range g.groupExprs {
			v, err := e.Eval(row)
			if err != nil {
				return false, err
			}
			groupVals[i] = v
		}
		keyBuff = encoding.MakeGroupKey(keyBuff[:0], groupVals)
		insts, ok := groups.entries[string(keyBuff)]
		if !ok {
			insts = g.allocGroup(groups)
			groups.entries[string(keyBuff)] = insts
		}
		for i, prog := range g.programs {
			if err := vm.Accumulate(groups.scratch, prog, insts[i], row); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}
