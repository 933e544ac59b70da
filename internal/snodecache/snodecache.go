// Package snodecache is the process-wide Successful-Nodes Cache: a bounded
// mapping from (pipeline_run_id, node_uid) to a sentinel, advisory only — a
// miss forces a metadata-store query, a hit bypasses it, so eviction never
// affects correctness, only latency.
package snodecache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the capacity used by production callers.
const DefaultCapacity = 1024

// Key identifies one node's completion within one pipeline run.
type Key struct {
	PipelineRunID string
	NodeUID       string
}

// Cache is the interface the generator depends on: get/put over Key, with
// no error path since a miss is never exceptional.
type Cache interface {
	Get(key Key) bool
	Put(key Key)
}

// LRUCache is the production implementation: a thread-safe bounded LRU.
type LRUCache struct {
	inner *lru.Cache[Key, struct{}]
}

// NewLRUCache constructs an LRUCache with the given capacity.
func NewLRUCache(capacity int) (*LRUCache, error) {
	inner, err := lru.New[Key, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUCache{inner: inner}, nil
}

func (c *LRUCache) Get(key Key) bool {
	_, ok := c.inner.Get(key)
	return ok
}

func (c *LRUCache) Put(key Key) {
	c.inner.Add(key, struct{}{})
}

// Len reports the number of entries currently cached.
func (c *LRUCache) Len() int { return c.inner.Len() }

var _ Cache = (*LRUCache)(nil)
