package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults applied when an option is not given.
const (
	DefaultMaxEntries = 10000
	DefaultTTL        = 7 * 24 * time.Hour
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	name       string
	defaultTTL time.Duration
	store      Store
	registerer prometheus.Registerer
	logger     zerolog.Logger
	now        func() time.Time

	computeTimeout time.Duration
}

func defaultOptions() options {
	return options{
		name:       "default",
		defaultTTL: DefaultTTL,
		logger:     log.Logger,
		now:        time.Now,
	}
}

// WithName labels the cache in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithDefaultTTL sets the TTL used when Set or GetOrCompute get ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.defaultTTL = ttl
		}
	}
}

// WithStore enables Flush and Load against s.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithMetrics exports cache counters to reg. A nil registerer is ignored.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger overrides the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithComputeTimeout bounds each GetOrCompute computation. Zero leaves fn
// to bound itself.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.computeTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
