// Package reflectcache memoizes per-type metadata lookups.
//
// Mods and listeners are plain Go values, so the loader only needs to answer
// questions such as "does this type implement Unloader" once per concrete
// type. Cache keeps those answers in a bounded LRU keyed by reflect.Type.
package reflectcache

import (
	"fmt"
	"reflect"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds a cache created with a non-positive size.
const DefaultSize = 256

// Cache memoizes values computed from a reflect.Type.
type Cache[V any] struct {
	entries *lru.Cache[reflect.Type, V]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New creates a cache holding at most size entries.
func New[V any](size int) (*Cache[V], error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[reflect.Type, V](size)
	if err != nil {
		return nil, fmt.Errorf("create reflect cache: %w", err)
	}
	return &Cache[V]{entries: entries}, nil
}

// MustNew is New for package-level caches; it panics on error.
func MustNew[V any](size int) *Cache[V] {
	c, err := New[V](size)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the memoized value for typ, invoking compute on a miss.
// compute may run more than once under contention; it must be pure.
func (c *Cache[V]) Get(typ reflect.Type, compute func(reflect.Type) V) V {
	if value, ok := c.entries.Get(typ); ok {
		c.hits.Add(1)
		return value
	}
	c.misses.Add(1)
	value := compute(typ)
	c.entries.Add(typ, value)
	return value
}

// Of is Get keyed by the dynamic type of v.
func (c *Cache[V]) Of(v any, compute func(reflect.Type) V) V {
	return c.Get(reflect.TypeOf(v), compute)
}

// Len reports the number of cached entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Purge drops every cached entry.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
