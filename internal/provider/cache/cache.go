package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"indexwatch/internal/metrics"
)

// DefaultSweepInterval is how often StartSweeper removes expired entries
// when no interval is given.
const DefaultSweepInterval = 5 * time.Minute

// entry stores one cached value with its expiry. Entries are replaced
// wholesale on Set, never mutated in place.
type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// expired is the single expiry predicate shared by the lazy read path,
// the sweep and Stats: a value is visible while now <= expiresAt.
func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats is a point-in-time scan of the cache.
type Stats struct {
	TotalEntries   int `json:"totalEntries"`
	ValidEntries   int `json:"validEntries"`
	ExpiredEntries int `json:"expiredEntries"`
}

// Cache is a key/value store with per-entry TTL. Expired entries are
// evicted lazily on read and periodically by Sweep. There is no size bound.
type Cache[V any] struct {
	name       string
	defaultTTL time.Duration
	clock      clockwork.Clock

	mu    sync.Mutex
	items map[string]entry[V]
}

// New creates a cache. name labels its metrics; defaultTTL applies to Set.
func New[V any](name string, defaultTTL time.Duration, clock clockwork.Clock) *Cache[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	return &Cache[V]{
		name:       name,
		defaultTTL: defaultTTL,
		clock:      clock,
		items:      make(map[string]entry[V]),
	}
}

// Get returns the value for key if present and not expired. A found but
// expired entry is deleted so it can never be returned again.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		return zero, false
	}
	if e.expired(now) {
		delete(c.items, key)
		metrics.CacheLookups.WithLabelValues(c.name, "expired").Inc()
		metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.items)))
		return zero, false
	}
	metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key, overwriting any existing entry.
// A non-positive ttl falls back to the default TTL.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now()

	c.mu.Lock()
	c.items[key] = entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	size := len(c.items)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// Has reports whether Get would return a value for key.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	size := len(c.items)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
			removed++
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
	if removed > 0 {
		metrics.CacheSweptEntries.WithLabelValues(c.name).Add(float64(removed))
	}
	return removed
}

// Stats scans the cache. It does not evict anything.
func (c *Cache[V]) Stats() Stats {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{TotalEntries: len(c.items)}
	for _, e := range c.items {
		if e.expired(now) {
			s.ExpiredEntries++
		} else {
			s.ValidEntries++
		}
	}
	return s
}

// StartSweeper runs Sweep every interval until the returned stop func is called.
func (c *Cache[V]) StartSweeper(interval time.Duration, log zerolog.Logger) (stop func()) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if n := c.Sweep(); n > 0 {
					log.Info().Str("cache", c.name).Int("count", n).Msg("cleaned up expired entries")
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}
