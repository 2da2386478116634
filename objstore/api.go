package objstore

import "context"

// Client is a flat key value object store. Get returns nil, nil when the key does not exist.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Start() error
	Stop() error
}
