// Package memtier holds the in-process tier of decoded objects.
package memtier

import (
	"errors"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// SizeFunc reports the memory footprint of a value in bytes.
type SizeFunc[V any] func(V) int64

// LRU is a size-bounded, strict least-recently-used cache. Put never
// replaces an existing value: the first writer wins. Safe for concurrent use.
type LRU[V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, lruItem[V]]
	sizeOf   SizeFunc[V]
	capacity int64
	size     int64
}

type lruItem[V any] struct {
	v    V
	size int64
}

// NewLRU creates an LRU bounded to capacity bytes as measured by sizeOf.
func NewLRU[V any](capacity int64, sizeOf SizeFunc[V]) (*LRU[V], error) {
	if capacity <= 0 {
		return nil, errors.New("memtier: capacity must be positive")
	}
	if sizeOf == nil {
		return nil, errors.New("memtier: size func is required")
	}
	l, err := simplelru.NewLRU[string, lruItem[V]](math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}
	return &LRU[V]{lru: l, sizeOf: sizeOf, capacity: capacity}, nil
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lru.Get(key)
	return it.v, ok
}

// Put stores v unless key is already present, then evicts from the cold end
// until the total size fits. A value larger than the capacity is evicted
// right away.
func (c *LRU[V]) Put(key string, v V) {
	size := c.sizeOf(v)
	if size < 0 {
		size = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Contains(key) {
		return
	}
	c.lru.Add(key, lruItem[V]{v: v, size: size})
	c.size += size
	c.trimLocked()
}

func (c *LRU[V]) trimLocked() {
	for c.size > c.capacity {
		_, it, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		c.size -= it.size
	}
}

// Remove drops key. It reports whether it was present.
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lru.Peek(key)
	if !ok {
		return false
	}
	c.lru.Remove(key)
	c.size -= it.size
	return true
}

func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.size = 0
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Size returns the sum of measured sizes of live entries.
func (c *LRU[V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU[V]) Capacity() int64 { return c.capacity }
