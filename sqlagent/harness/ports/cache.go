package harnessports

import "context"

// Cache memoizes tool results by normalized input. Values are opaque bytes; a zero or
// negative ttlSeconds keeps the entry until eviction.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
