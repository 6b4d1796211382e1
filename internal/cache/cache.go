// Package cache provides a generic in-memory LRU cache with per-entry TTL.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries is used when New is given a non-positive capacity.
const DefaultMaxEntries = 1000

// Cache is a generic in-memory cache with LRU eviction and TTL expiry.
// An entry is expired once now >= its expiry, so a zero TTL produces an
// entry that is never served.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]*list.Element
	evictList  *list.List
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	stats      Stats
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	createdAt time.Time
	expiresAt time.Time
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a cache with the given max entries and default TTL.
func New[K comparable, V any](maxEntries int, defaultTTL time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache[K, V]{
		items:      make(map[K]*list.Element),
		evictList:  list.New(),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        o.now,
	}
}

// Get retrieves a value from the cache. Returns the value and true if
// found and not expired, or the zero value and false otherwise. An
// expired entry is removed on access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, _, ok := c.GetWithAge(key)
	return v, ok
}

// GetWithAge retrieves a value and its age. Returns the value, the time
// since it was cached, and true if found and not expired.
func (c *Cache[K, V]) GetWithAge(key K) (V, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, 0, false
	}

	e := el.Value.(*entry[K, V])
	now := c.now()
	if e.expired(now) {
		c.removeLocked(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, 0, false
	}

	c.evictList.MoveToFront(el)
	c.stats.Hits++
	return e.value, now.Sub(e.createdAt), true
}

// Set stores a value in the cache with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value in the cache with a custom TTL. When the
// cache grows past capacity, expired entries are purged first and only
// then are least-recently-used entries evicted.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		c.evictList.MoveToFront(el)
		e := el.Value.(*entry[K, V])
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		return
	}

	e := &entry[K, V]{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	el := c.evictList.PushFront(e)
	c.items[key] = el

	if c.evictList.Len() > c.maxEntries {
		c.evictExpiredLocked(now, el)
	}
	for c.evictList.Len() > c.maxEntries {
		c.evictOldestLocked()
	}
}

// Invalidate removes a single key from the cache.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// InvalidateFunc removes all entries for which predicate returns true
// and reports how many were removed.
func (c *Cache[K, V]) InvalidateFunc(predicate func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, el := range c.items {
		if predicate(key) {
			c.removeLocked(el)
			n++
		}
	}
	return n
}

// EvictExpired removes every expired entry and reports how many were
// removed.
func (c *Cache[K, V]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpiredLocked(c.now(), nil)
}

// Flush removes all entries from the cache.
func (c *Cache[K, V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.evictList.Init()
}

// Len returns the number of entries in the cache, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Cap returns the maximum number of entries.
func (c *Cache[K, V]) Cap() int {
	return c.maxEntries
}

// DefaultTTL returns the TTL applied by Set.
func (c *Cache[K, V]) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Stats returns a snapshot of cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.items)
	s.MaxEntries = c.maxEntries
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// ResetStats zeroes the hit/miss/eviction counters.
func (c *Cache[K, V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.evictList.Remove(el)
}

// evictExpiredLocked removes expired entries except keep, which is the
// entry just written and must survive its own insert.
func (c *Cache[K, V]) evictExpiredLocked(now time.Time, keep *list.Element) int {
	n := 0
	for el := c.evictList.Back(); el != nil; {
		prev := el.Prev()
		if el != keep && el.Value.(*entry[K, V]).expired(now) {
			c.removeLocked(el)
			c.stats.Expirations++
			n++
		}
		el = prev
	}
	return n
}

func (c *Cache[K, V]) evictOldestLocked() {
	el := c.evictList.Back()
	if el == nil {
		return
	}
	c.removeLocked(el)
	c.stats.Evictions++
}
