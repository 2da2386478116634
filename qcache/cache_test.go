package qcache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spirit-labs/tekagg/objstore/dev"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyDependsOnPlan(t *testing.T) {
	upstream := ComputeSHA1String("partition-0")
	k1 := CacheKey(upstream, "plan-a")
	k2 := CacheKey(upstream, "plan-b")
	require.NotEqual(t, k1, k2)
	require.Equal(t, k1, CacheKey(upstream, "plan-a"))
	require.Equal(t, ComputeSHA1String(upstream.String()+"~plan-a"), k1)
	require.NotEqual(t, Path("/tmp/c", k1), Path("/tmp/c", k2))
}

func TestSHA1String(t *testing.T) {
	// sha1("abc")
	require.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", ComputeSHA1String("abc").String())
	require.False(t, ComputeSHA1String("abc").IsZero())
	require.True(t, SHA1Hash{}.IsZero())
}

func TestPath(t *testing.T) {
	key := ComputeSHA1String("abc")
	require.Equal(t, filepath.Join("/var/cache", "a9993e364706816aba3e25717850c26c9cd0d89d.qcache"), Path("/var/cache", key))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.qcache")
	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(b))
	_, err = os.Stat(path + "~")
	require.True(t, os.IsNotExist(err))
}

func TestDisabledCache(t *testing.T) {
	c, err := NewCache("", 1024, nil)
	require.NoError(t, err)
	require.False(t, c.Enabled())
	require.NoError(t, c.Put(context.Background(), ComputeSHA1String("k"), []byte("v")))
	b, err := c.Get(context.Background(), ComputeSHA1String("k"))
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestPutGet(t *testing.T) {
	for _, memSize := range []int64{0, 1024 * 1024} {
		dir := t.TempDir()
		c, err := NewCache(dir, memSize, nil)
		require.NoError(t, err)
		key := ComputeSHA1String("k")

		b, err := c.Get(context.Background(), key)
		require.NoError(t, err)
		require.Nil(t, b)

		require.NoError(t, c.Put(context.Background(), key, []byte("state")))
		b, err = c.Get(context.Background(), key)
		require.NoError(t, err)
		require.Equal(t, "state", string(b))

		onDisk, err := os.ReadFile(Path(dir, key))
		require.NoError(t, err)
		require.Equal(t, "state", string(onDisk))

		require.NoError(t, c.Invalidate(context.Background(), key))
		b, err = c.Get(context.Background(), key)
		require.NoError(t, err)
		require.Nil(t, b)
		c.Close()
	}
}

func TestDiskSharedBetweenCaches(t *testing.T) {
	dir := t.TempDir()
	c1, err := NewCache(dir, 1024*1024, nil)
	require.NoError(t, err)
	c2, err := NewCache(dir, 1024*1024, nil)
	require.NoError(t, err)
	key := ComputeSHA1String("shared")
	require.NoError(t, c1.Put(context.Background(), key, []byte("from-c1")))
	b, err := c2.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "from-c1", string(b))
}

func TestMirror(t *testing.T) {
	mirror := dev.NewInMemStore(0)
	key := ComputeSHA1String("mirrored")

	c1, err := NewCache(t.TempDir(), 0, mirror)
	require.NoError(t, err)
	require.NoError(t, c1.Put(context.Background(), key, []byte("state")))
	require.Equal(t, 1, mirror.Size())

	// a cache with an empty dir finds it in the mirror and writes it locally
	dir2 := t.TempDir()
	c2, err := NewCache(dir2, 0, mirror)
	require.NoError(t, err)
	b, err := c2.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "state", string(b))
	onDisk, err := os.ReadFile(Path(dir2, key))
	require.NoError(t, err)
	require.Equal(t, "state", string(onDisk))

	// mirror failures are misses
	mirror.SetUnavailable(true)
	c3, err := NewCache(t.TempDir(), 0, mirror)
	require.NoError(t, err)
	b, err = c3.Get(context.Background(), key)
	require.NoError(t, err)
	require.Nil(t, b)
	require.NoError(t, c3.Put(context.Background(), key, []byte("state")))
}

func TestConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 0, nil)
	require.NoError(t, err)
	key := ComputeSHA1String("raced")
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.Put(context.Background(), key, payload))
		}()
	}
	wg.Wait()
	b, err := os.ReadFile(Path(dir, key))
	require.NoError(t, err)
	require.Equal(t, payload, b)
}
