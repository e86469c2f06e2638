// Package cache memoizes expensive computations with a capacity bound,
// per-entry TTL, single-flight computation and optional persistence.
//
// Eviction is least-recently-used: Get and GetOrCompute hits promote an
// entry, and inserting beyond MaxEntries evicts the entry touched longest ago.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type item[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

func (it *item[V]) expired(now time.Time) bool {
	return !now.Before(it.expiresAt)
}

// Cache is a bounded LRU cache with TTL. It is safe for concurrent use.
//
// The mutex guards only the LRU list. Computations in GetOrCompute run
// outside it, coordinated per key by a singleflight group, so unrelated
// keys never wait on each other.
type Cache[V any] struct {
	name       string
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	store      Store
	log        zerolog.Logger
	metrics    *metrics

	computeTimeout time.Duration

	mu    sync.Mutex
	items *lru.LRU[string, *item[V]]
	group singleflight.Group

	hits, misses, evictions, expirations, computes atomic.Int64
}

// New returns a cache holding at most maxEntries entries.
func New[V any](maxEntries int, opts ...Option) (*Cache[V], error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	items, err := lru.NewLRU[string, *item[V]](maxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create cache %s: %w", o.name, err)
	}
	c := &Cache[V]{
		name:       o.name,
		maxEntries: maxEntries,
		defaultTTL: o.defaultTTL,
		now:        o.now,
		store:      o.store,
		log:        o.logger.With().Str("cache", o.name).Logger(),
		items:      items,

		computeTimeout: o.computeTimeout,
	}
	if o.registerer != nil {
		m, err := newMetrics(o.registerer, o.name)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}
	return c, nil
}

// Name returns the cache label.
func (c *Cache[V]) Name() string { return c.name }

// Get returns the live value for key. Expired entries are removed and
// reported absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.getLocked(key)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		c.metrics.hit()
	} else {
		c.misses.Add(1)
		c.metrics.miss()
	}
	return v, ok
}

func (c *Cache[V]) getLocked(key string) (V, bool) {
	var zero V
	it, ok := c.items.Get(key)
	if !ok {
		return zero, false
	}
	if it.expired(c.now()) {
		c.items.Remove(key)
		c.expirations.Add(1)
		c.metrics.setSize(c.items.Len())
		return zero, false
	}
	return it.value, true
}

// Set stores value under key for ttl (the default TTL when ttl <= 0).
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	c.mu.Lock()
	c.addLocked(key, &item[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)})
	c.mu.Unlock()
}

func (c *Cache[V]) addLocked(key string, it *item[V]) {
	if c.items.Add(key, it) {
		c.evictions.Add(1)
		c.metrics.evict()
	}
	c.metrics.setSize(c.items.Len())
}

// GetOrCompute returns the cached value for key or computes it with fn.
//
// Concurrent callers for the same missing key share one execution of fn and
// receive the same value or error. Errors are not cached. fn runs detached
// from the cancellation of the caller that started it, bounded only by the
// compute timeout, so one caller giving up never fails the others. A waiter
// whose own context ends stops waiting and gets its context error.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	fctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		v, ok := c.getLocked(key)
		c.mu.Unlock()
		if ok {
			return v, nil
		}
		c.computes.Add(1)
		c.metrics.compute()
		cctx := fctx
		if c.computeTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(fctx, c.computeTimeout)
			defer cancel()
		}
		v, err := fn(cctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Invalidate removes key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	c.items.Remove(key)
	c.metrics.setSize(c.items.Len())
	c.mu.Unlock()
	c.group.Forget(key)
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items.Purge()
	c.metrics.setSize(0)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Keys returns stored keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Keys()
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.items.Keys() {
		if it, ok := c.items.Peek(k); ok && it.expired(now) {
			c.items.Remove(k)
			n++
		}
	}
	if n > 0 {
		c.expirations.Add(int64(n))
		c.metrics.setSize(c.items.Len())
	}
	return n
}

// StartJanitor sweeps expired entries every interval until ctx ends.
func (c *Cache[V]) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := c.Sweep(); n > 0 {
					c.log.Debug().Int("expired", n).Msg("cache sweep")
				}
			}
		}
	}()
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	MaxEntries  int    `json:"maxEntries"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Evictions   int64  `json:"evictions"`
	Expirations int64  `json:"expirations"`
	Computes    int64  `json:"computes"`
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Name:        c.name,
		Entries:     c.Len(),
		MaxEntries:  c.maxEntries,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Computes:    c.computes.Load(),
	}
}
