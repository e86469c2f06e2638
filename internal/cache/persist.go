package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kamusis/skillmatch/internal/domain"
)

// Record is the persisted form of one cache entry.
type Record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Store persists cache records. One store instance backs one cache.
// Records are saved and loaded from least to most recently used.
type Store interface {
	Save(ctx context.Context, records []Record) error
	Load(ctx context.Context) ([]Record, error)
	Location() string
}

// Flush writes every live entry to the store. Failures are returned as
// *domain.CacheIOError and logged; the in-memory cache is unaffected.
// Without a store Flush is a no-op.
func (c *Cache[V]) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	type snap struct {
		key string
		it  item[V]
	}
	now := c.now()
	c.mu.Lock()
	live := make([]snap, 0, c.items.Len())
	for _, k := range c.items.Keys() {
		if it, ok := c.items.Peek(k); ok && !it.expired(now) {
			live = append(live, snap{key: k, it: *it})
		}
	}
	c.mu.Unlock()

	records := make([]Record, 0, len(live))
	for _, s := range live {
		b, err := json.Marshal(s.it.value)
		if err != nil {
			return c.ioError("flush", err)
		}
		records = append(records, Record{Key: s.key, Value: b, CreatedAt: s.it.createdAt, ExpiresAt: s.it.expiresAt})
	}
	if err := c.store.Save(ctx, records); err != nil {
		return c.ioError("flush", err)
	}
	c.log.Debug().Int("entries", len(records)).Str("path", c.store.Location()).Msg("cache flushed")
	return nil
}

// Load restores entries from the store, dropping those already expired.
// It returns the number of entries restored. Failures are returned as
// *domain.CacheIOError and leave the in-memory cache untouched.
func (c *Cache[V]) Load(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	records, err := c.store.Load(ctx)
	if err != nil {
		return 0, c.ioError("load", err)
	}

	now := c.now()
	type decoded struct {
		key string
		it  *item[V]
	}
	keep := make([]decoded, 0, len(records))
	skipped := 0
	for _, r := range records {
		if r.Key == "" || !r.ExpiresAt.After(r.CreatedAt) || !now.Before(r.ExpiresAt) {
			skipped++
			continue
		}
		var v V
		if err := json.Unmarshal(r.Value, &v); err != nil {
			skipped++
			continue
		}
		keep = append(keep, decoded{key: r.Key, it: &item[V]{value: v, createdAt: r.CreatedAt, expiresAt: r.ExpiresAt}})
	}

	c.mu.Lock()
	for _, d := range keep {
		c.addLocked(d.key, d.it)
	}
	c.mu.Unlock()

	c.log.Debug().Int("restored", len(keep)).Int("dropped", skipped).Str("path", c.store.Location()).Msg("cache loaded")
	return len(keep), nil
}

func (c *Cache[V]) ioError(op string, err error) error {
	ioErr := &domain.CacheIOError{Op: op, Path: c.store.Location(), Err: err}
	c.log.Warn().Err(err).Str("op", op).Msg("cache persistence failed; continuing in memory")
	return ioErr
}
