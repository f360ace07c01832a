package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a generic in-memory read cache: LRU-bounded, TTL-expired, with
// coalesced loads so concurrent misses on one key perform a single fetch.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	byKey   map[K]*list.Element
	lru     *list.List // front = most recent
	cap     int
	ttl     time.Duration
	loads   map[K]*pendingLoad[V]
	hits    int64
	misses  int64
	evicted int64
}

// Stats holds cache performance counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hitRate"`
}

type cacheEntry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

// pendingLoad coalesces concurrent misses; done is closed once the fetch
// settles and val/err are safe to read.
type pendingLoad[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// New creates a cache holding at most maxEntries values for defaultTTL.
func New[K comparable, V any](maxEntries int, defaultTTL time.Duration) *Cache[K, V] {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache[K, V]{
		byKey: make(map[K]*list.Element),
		lru:   list.New(),
		cap:   maxEntries,
		ttl:   defaultTTL,
		loads: make(map[K]*pendingLoad[V]),
	}
}

// lookupLocked returns the live entry for key, dropping it if expired.
func (c *Cache[K, V]) lookupLocked(key K) (*cacheEntry[K, V], bool) {
	el, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*cacheEntry[K, V])
	if time.Now().After(e.expires) {
		c.dropLocked(el)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return e, true
}

// Get returns the value and true when present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookupLocked(key); ok {
		c.hits++
		return e.value, true
	}
	c.misses++
	var zero V
	return zero, false
}

// Set stores a value with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	expires := time.Now().Add(c.ttl)
	if el, ok := c.byKey[key]; ok {
		e := el.Value.(*cacheEntry[K, V])
		e.value, e.expires = value, expires
		c.lru.MoveToFront(el)
		return
	}
	c.byKey[key] = c.lru.PushFront(&cacheEntry[K, V]{key: key, value: value, expires: expires})
	for c.lru.Len() > c.cap {
		if oldest := c.lru.Back(); oldest != nil {
			c.dropLocked(oldest)
			c.evicted++
		}
	}
}

// GetOrLoad returns the cached value for key, or runs loadFn to populate
// it. Concurrent callers missing on the same key share one load.
func (c *Cache[K, V]) GetOrLoad(key K, loadFn func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.lookupLocked(key); ok {
		c.hits++
		c.mu.Unlock()
		return e.value, nil
	}
	c.misses++
	if p, ok := c.loads[key]; ok {
		c.mu.Unlock()
		<-p.done
		return p.val, p.err
	}
	p := &pendingLoad[V]{done: make(chan struct{})}
	c.loads[key] = p
	c.mu.Unlock()

	p.val, p.err = loadFn()

	c.mu.Lock()
	if p.err == nil {
		c.setLocked(key, p.val)
	}
	delete(c.loads, key)
	c.mu.Unlock()
	close(p.done)
	return p.val, p.err
}

// Invalidate removes a single key.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byKey[key]; ok {
		c.dropLocked(el)
	}
}

// Flush removes all entries, keeping the counters.
func (c *Cache[K, V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.byKey)
	c.lru.Init()
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Snapshot returns a copy of the counters.
func (c *Cache[K, V]) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evicted, Entries: len(c.byKey)}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache[K, V]) dropLocked(el *list.Element) {
	delete(c.byKey, el.Value.(*cacheEntry[K, V]).key)
	c.lru.Remove(el)
}
