package dev

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spirit-labs/tekagg/errors"
	log "github.com/spirit-labs/tekagg/logger"
)

func NewInMemStore(delay time.Duration) *InMemStore {
	return &InMemStore{delay: delay}
}

// InMemStore is an object store held in memory, used as the dev cache mirror and in tests.
type InMemStore struct {
	store       sync.Map
	delay       time.Duration
	unavailable atomic.Bool
}

func (f *InMemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.checkUnavailable(); err != nil {
		return nil, err
	}
	if err := f.maybeAddDelay(ctx); err != nil {
		return nil, err
	}
	b, ok := f.store.Load(key)
	if !ok {
		return nil, nil
	}
	return b.([]byte), nil //nolint:forcetypeassert
}

func (f *InMemStore) Put(ctx context.Context, key string, value []byte) error {
	if err := f.checkUnavailable(); err != nil {
		return err
	}
	if err := f.maybeAddDelay(ctx); err != nil {
		return err
	}
	log.Debugf("in mem object store %p adding blob with key %s value length %d", f, key, len(value))
	f.store.Store(key, value)
	return nil
}

func (f *InMemStore) Delete(ctx context.Context, key string) error {
	if err := f.checkUnavailable(); err != nil {
		return err
	}
	if err := f.maybeAddDelay(ctx); err != nil {
		return err
	}
	log.Debugf("in mem object store %p deleting obj with key %s", f, key)
	f.store.Delete(key)
	return nil
}

func (f *InMemStore) SetUnavailable(unavailable bool) {
	f.unavailable.Store(unavailable)
}

func (f *InMemStore) checkUnavailable() error {
	if f.unavailable.Load() {
		return errors.NewUnavailableErrorf("object store is unavailable")
	}
	return nil
}

func (f *InMemStore) maybeAddDelay(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (f *InMemStore) Size() int {
	size := 0
	f.store.Range(func(_, _ interface{}) bool {
		size++
		return true
	})
	return size
}

func (f *InMemStore) ForEach(fun func(key string, value []byte)) {
	f.store.Range(func(k, v any) bool {
		fun(k.(string), v.([]byte))
		return true
	})
}

func (f *InMemStore) Start() error {
	return nil
}

func (f *InMemStore) Stop() error {
	return nil
}
