package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// LRUCache is a bounded cache with per-entry TTL. It memoizes query checker rewrites.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	items    map[string]*list.Element
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewLRUCache creates a new LRU cache with the specified capacity.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get retrieves a value and marks it as recently used. Expired entries are dropped.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.remove(el)
		return nil, false
	}

	c.order.MoveToFront(el)
	return entry.value, true
}

// Set stores a value. A non-positive ttlSeconds keeps the entry until it is evicted.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})

	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
	return nil
}

// Delete removes a key from the cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	return nil
}

// Len returns the number of cached entries, expired or not.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*cacheEntry).key)
}

// Ensure LRUCache implements the Cache interface.
var _ ports.Cache = (*LRUCache)(nil)
