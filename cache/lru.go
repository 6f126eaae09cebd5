// Package cache provides the read-side LRU used for manifests, tails and
// recent chunks. Writers publish via CAS; readers invalidate by version
// comparison, so the cache never needs a write-path callback — only a
// bounded, metered store for hot lookups plus a load-coalescing wrapper so
// concurrent queries touching the same cold stream don't stampede the
// backing store.
package cache

import (
	"container/list"
	"context"
	"expvar"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	key   string
	value any
}

// LRU is a generic fixed-size, mutex-protected least-recently-used cache.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element

	hits   *expvar.Int
	misses *expvar.Int
}

func NewLRU(capacity int) *LRU {
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// SetMetrics wires the cache's hit/miss counters into a pair of expvar
// counters supplied by the caller; an LRU without them counts nothing.
func (c *LRU) SetMetrics(hits, misses *expvar.Int) {
	c.hits = hits
	c.misses = misses
}

func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return nil, false
	}
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		if c.hits != nil {
			c.hits.Add(1)
		}
		return elem.Value.(*entry).value, true
	}
	if c.misses != nil {
		c.misses.Add(1)
	}
	return nil, false
}

func (c *LRU) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*entry).value = value
		return
	}
	if c.order.Len() >= c.capacity {
		c.evictLocked()
	}
	elem := c.order.PushFront(&entry{key: key, value: value})
	c.items[key] = elem
}

// Invalidate drops key from the cache, used when a version comparison shows
// a fresher copy exists in the store.
func (c *LRU) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU) evictLocked() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

// HitRate reports the cache's cumulative hit rate, 0 when unmetered or
// unused.
func (c *LRU) HitRate() float64 {
	if c.hits == nil || c.misses == nil {
		return 0
	}
	hits := float64(c.hits.Value())
	misses := float64(c.misses.Value())
	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}

// CoalescingLoader wraps an LRU with a singleflight group so that N
// concurrent misses on the same key result in exactly one call to load.
type CoalescingLoader struct {
	cache *LRU
	group singleflight.Group
}

func NewCoalescingLoader(cache *LRU) *CoalescingLoader {
	return &CoalescingLoader{cache: cache}
}

// GetOrLoad returns the cached value for key, or invokes load exactly once
// across all concurrent callers racing on the same miss. Only appropriate
// for immutable records (chunk blobs): once cached under a key, the value
// is never re-checked against the store.
func (c *CoalescingLoader) GetOrLoad(ctx context.Context, key string, load func(context.Context) (any, error)) (any, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Put(key, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// versionedEntry pairs a decoded value with the store version it was
// decoded from.
type versionedEntry struct {
	version uint64
	value   any
}

// GetOrLoadVersioned returns the cached decoded value for key if its
// cached version matches currentVersion; otherwise it invokes decode
// exactly once across concurrent callers racing on the same (key,
// currentVersion) pair and caches the result tagged with that version.
// Manifests and tails are mutated via CAS on the write path, so the caller
// must supply the version it just read from the store — a cache entry
// whose version no longer matches is treated as a miss rather than served
// stale, which is what lets this cache coexist with CAS invalidation
// instead of pinning the first value it ever saw for a key.
func (c *CoalescingLoader) GetOrLoadVersioned(ctx context.Context, key string, currentVersion uint64, decode func(context.Context) (any, error)) (any, error) {
	if v, ok := c.cache.Get(key); ok {
		if ve, ok := v.(*versionedEntry); ok && ve.version == currentVersion {
			return ve.value, nil
		}
	}
	groupKey := fmt.Sprintf("%s@%d", key, currentVersion)
	v, err, _ := c.group.Do(groupKey, func() (any, error) {
		if v, ok := c.cache.Get(key); ok {
			if ve, ok := v.(*versionedEntry); ok && ve.version == currentVersion {
				return ve.value, nil
			}
		}
		decoded, err := decode(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Put(key, &versionedEntry{version: currentVersion, value: decoded})
		return decoded, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
