package qcache

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/spirit-labs/tekagg/errors"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/metrics"
	"github.com/spirit-labs/tekagg/objstore"
	"golang.org/x/sync/singleflight"
)

// Cache holds serialized group state. Lookups go through an in memory tier, then the cache directory, then
// the optional object store mirror. Entries found in a lower tier are promoted to the tiers above it.
//
// The directory is shared with other processes. Files are written to a temporary name and renamed into
// place, so a reader only ever sees a complete file or no file.
type Cache struct {
	dir    string
	mem    *ristretto.Cache
	mirror objstore.Client
	group  singleflight.Group
	// ristretto mutates its closed flag without locking
	lock sync.RWMutex
	// serializes writers of the same key within this process, they share a temporary file name
	writeLocks [16]sync.Mutex
}

// NewCache creates a cache. dir may be empty, in which case nothing is cached. A memMaxSizeBytes of 0
// disables the memory tier and a nil mirror disables the object store tier.
func NewCache(dir string, memMaxSizeBytes int64, mirror objstore.Client) (*Cache, error) {
	c := &Cache{dir: dir, mirror: mirror}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	if memMaxSizeBytes > 0 {
		mem, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     memMaxSizeBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.WithStack(err)
		}
		c.mem = mem
	}
	return c, nil
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) Enabled() bool {
	return c != nil && c.dir != ""
}

// Get returns the state stored under key, or nil if there is none.
func (c *Cache) Get(ctx context.Context, key SHA1Hash) ([]byte, error) {
	if !c.Enabled() {
		return nil, nil
	}
	skey := key.String()
	if b, ok := c.memGet(skey); ok {
		metrics.CacheLookups.WithLabelValues("mem_hit").Inc()
		return b, nil
	}
	// concurrent lookups of the same key share one disk read
	res, err, _ := c.group.Do(skey, func() (interface{}, error) {
		return c.loadAndPromote(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	b, _ := res.([]byte)
	return b, nil
}

func (c *Cache) loadAndPromote(ctx context.Context, key SHA1Hash) ([]byte, error) {
	path := Path(c.dir, key)
	b, err := os.ReadFile(path)
	if err == nil {
		metrics.CacheLookups.WithLabelValues("disk_hit").Inc()
		c.memSet(key.String(), b)
		return b, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.WithStack(err)
	}
	if c.mirror == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}
	b, err = c.mirror.Get(ctx, mirrorKey(key))
	if err != nil {
		// the mirror is best effort, a failure is a miss
		log.Warnf("failed to read group state %s from cache mirror: %v", key, err)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}
	if b == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, nil
	}
	metrics.CacheLookups.WithLabelValues("mirror_hit").Inc()
	if err := c.writeFile(key, b); err != nil {
		log.Warnf("failed to write group state %s to cache dir: %v", key, err)
	}
	c.memSet(key.String(), b)
	return b, nil
}

// Put stores state under key in every tier.
func (c *Cache) Put(ctx context.Context, key SHA1Hash, state []byte) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.writeFile(key, state); err != nil {
		metrics.CacheWrites.WithLabelValues("error").Inc()
		return err
	}
	c.memSet(key.String(), state)
	if c.mirror != nil {
		if err := c.mirror.Put(ctx, mirrorKey(key), state); err != nil {
			metrics.CacheWrites.WithLabelValues("mirror_error").Inc()
			log.Warnf("failed to write group state %s to cache mirror: %v", key, err)
		}
	}
	metrics.CacheWrites.WithLabelValues("ok").Inc()
	return nil
}

// Invalidate removes key from every tier. It is used when stored state turns out to be unusable.
func (c *Cache) Invalidate(ctx context.Context, key SHA1Hash) error {
	if !c.Enabled() {
		return nil
	}
	c.memDel(key.String())
	if err := os.Remove(Path(c.dir, key)); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	if c.mirror != nil {
		if err := c.mirror.Delete(ctx, mirrorKey(key)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) Close() {
	if c.mem == nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.mem.Close()
	c.mem = nil
}

func (c *Cache) writeFile(key SHA1Hash, data []byte) error {
	l := &c.writeLocks[int(key[0])%len(c.writeLocks)]
	l.Lock()
	defer l.Unlock()
	return WriteFileAtomic(Path(c.dir, key), data)
}

func (c *Cache) memGet(skey string) ([]byte, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.mem == nil {
		return nil, false
	}
	v, ok := c.mem.Get(skey)
	if !ok {
		return nil, false
	}
	return v.([]byte), true //nolint:forcetypeassert
}

func (c *Cache) memSet(skey string, b []byte) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.mem == nil {
		return
	}
	c.mem.Set(skey, b, int64(len(b)))
	c.mem.Wait()
}

func (c *Cache) memDel(skey string) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.mem == nil {
		return
	}
	c.mem.Del(skey)
}

func mirrorKey(key SHA1Hash) string {
	return "qcache/" + key.String() + FileSuffix
}

// WriteFileAtomic writes data to path + "~" and renames it to path.
func WriteFileAtomic(path string, data []byte) error {
	tmpPath := path + "~"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmpPath, path))
}
