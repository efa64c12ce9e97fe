package harnessports

import "context"

// RateLimiter gates model calls per key. Acquire blocks until a permit is available or
// ctx is done; release must be called once the call returns.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
