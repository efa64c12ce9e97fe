package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// TokenBucket throttles model calls per key. Acquire waits for a token instead of failing,
// so a burst of concurrent runs slows down rather than erroring out.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
	now        func() time.Time
}

// bucket represents a single token bucket for a key.
type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire blocks until a token for key is available or ctx is done.
// The returned release is a no-op; tokens come back only through refill.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	for {
		wait, ok := tb.take(key)
		if ok {
			return func() {}, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &RateLimitError{Message: "rate limit wait aborted", Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// take consumes a token, or reports how long until the next refill.
func (tb *TokenBucket) take(key string) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	if tokensToAdd := int(now.Sub(b.lastRefill) / tb.refillRate); tokensToAdd > 0 {
		b.tokens = min(b.tokens+tokensToAdd, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(tokensToAdd) * tb.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return 0, true
	}
	return tb.refillRate - now.Sub(b.lastRefill), false
}

// RateLimitError is returned when waiting for a token is abandoned.
type RateLimitError struct {
	Message string
	Err     error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)
