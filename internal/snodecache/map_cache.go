package snodecache

import "sync"

// MapCache is a plain, unbounded, thread-safe map — the deterministic
// substitute tests use in place of LRUCache.
type MapCache struct {
	mu   sync.Mutex
	seen map[Key]struct{}
}

// NewMapCache constructs an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{seen: make(map[Key]struct{})}
}

func (c *MapCache) Get(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return ok
}

func (c *MapCache) Put(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = struct{}{}
}

var _ Cache = (*MapCache)(nil)
