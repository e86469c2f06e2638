// Package external queries registries outside the catalog (MCP server lists,
// search APIs) and merges their suggestions.
package external

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kamusis/skillmatch/internal/cache"
	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/plugin"
	"github.com/kamusis/skillmatch/internal/textutil"
)

const (
	DefaultSourceTimeout = 10 * time.Second
	DefaultDeadline      = 20 * time.Second
	DefaultCacheTTL      = 15 * time.Minute
	DefaultMaxResults    = 5
	DefaultMinRelevance  = 0.35
	MaxResultsLimit      = 20
)

// DefaultSources are queried when Options.Sources is empty.
var DefaultSources = []string{string(domain.SourceMCPRegistry), string(domain.SourceSmithery)}

// Options selects sources and shapes the merged result.
type Options struct {
	Sources      []string
	MaxResults   int
	MinRelevance float64
}

// DefaultOptions returns the options used when a caller has no preference.
func DefaultOptions() Options {
	return Options{
		Sources:      append([]string(nil), DefaultSources...),
		MaxResults:   DefaultMaxResults,
		MinRelevance: DefaultMinRelevance,
	}
}

// Warning reports a source that contributed nothing because it failed.
type Warning struct {
	Source  string `json:"source"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	WarnError         = "error"
	WarnTimeout       = "timeout"
	WarnRateLimited   = "rate-limited"
	WarnUnknownSource = "unknown-source"
)

// Result is the merged outcome of one Query.
type Result struct {
	Query       string                      `json:"query"`
	Suggestions []domain.ExternalSuggestion `json:"suggestions"`
	Warnings    []Warning                   `json:"warnings,omitempty"`
	Took        time.Duration               `json:"took"`
}

// Aggregator fans a query out to registered external sources.
type Aggregator struct {
	reg      *plugin.Registry
	cache    *cache.Cache[[]domain.ExternalSuggestion]
	timeout  time.Duration
	deadline time.Duration
	ttl      time.Duration
	logger   zerolog.Logger
	metrics  *aggMetrics

	mu       sync.Mutex
	limiters map[string]*limiter
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSourceTimeout bounds each source call that does not set its own timeout.
func WithSourceTimeout(d time.Duration) Option { return func(a *Aggregator) { a.timeout = d } }

// WithDeadline bounds a whole Query.
func WithDeadline(d time.Duration) Option { return func(a *Aggregator) { a.deadline = d } }

// WithCacheTTL sets the result TTL for sources that do not set their own.
func WithCacheTTL(d time.Duration) Option { return func(a *Aggregator) { a.ttl = d } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(a *Aggregator) { a.logger = l } }

// WithMetrics registers request counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(a *Aggregator) { a.metrics = newAggMetrics(reg) }
}

// New returns an Aggregator over the sources in reg, caching per-source
// results in c.
func New(reg *plugin.Registry, c *cache.Cache[[]domain.ExternalSuggestion], opts ...Option) *Aggregator {
	a := &Aggregator{
		reg:      reg,
		cache:    c,
		timeout:  DefaultSourceTimeout,
		deadline: DefaultDeadline,
		ttl:      DefaultCacheTTL,
		logger:   log.Logger,
		limiters: make(map[string]*limiter),
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With().Str("component", "external").Logger()
	return a
}

// Query asks every selected source about text and merges the answers.
// Failing sources become Warnings; only invalid input is returned as an error.
func (a *Aggregator) Query(ctx context.Context, text string, opts Options) (Result, error) {
	start := time.Now()
	query := strings.TrimSpace(text)
	if query == "" {
		return Result{}, domain.NewValidationError("query", "must not be empty")
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	type outcome struct {
		suggestions []domain.ExternalSuggestion
		warning     *Warning
	}
	outcomes := make([]outcome, len(opts.Sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range opts.Sources {
		src, ok := a.reg.ExternalSource(id)
		if !ok {
			outcomes[i].warning = &Warning{Source: id, Kind: WarnUnknownSource, Message: "source is not registered"}
			continue
		}
		g.Go(func() error {
			res, err := a.querySource(gctx, src, query)
			if err != nil {
				w := classify(id, err)
				outcomes[i].warning = &w
				return nil
			}
			outcomes[i].suggestions = res
			return nil
		})
	}
	_ = g.Wait()

	var (
		all      []domain.ExternalSuggestion
		warnings []Warning
	)
	for _, o := range outcomes {
		all = append(all, o.suggestions...)
		if o.warning != nil {
			warnings = append(warnings, *o.warning)
		}
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Source < warnings[j].Source })

	return Result{
		Query:       query,
		Suggestions: Merge(all, opts.MaxResults, opts.MinRelevance),
		Warnings:    warnings,
		Took:        time.Since(start),
	}, nil
}

func normalizeOptions(o Options) (Options, error) {
	if o.MaxResults == 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.MaxResults < 1 || o.MaxResults > MaxResultsLimit {
		return o, domain.NewValidationError("maxResults", "must be between 1 and %d", MaxResultsLimit)
	}
	if o.MinRelevance < 0 || o.MinRelevance > 1 {
		return o, domain.NewValidationError("minRelevance", "must be between 0 and 1")
	}
	if len(o.Sources) == 0 {
		o.Sources = DefaultSources
	}
	seen := make(map[string]struct{}, len(o.Sources))
	srcs := make([]string, 0, len(o.Sources))
	for _, s := range o.Sources {
		s = strings.TrimSpace(s)
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		srcs = append(srcs, s)
	}
	o.Sources = srcs
	return o, nil
}

func cacheKey(source, query string) string {
	return source + "\x00" + textutil.Normalize(query)
}

// querySource serves from cache when possible. The rate limiter is only
// consulted when the source is actually called; callers that joined another
// caller's in-flight request count as cached.
func (a *Aggregator) querySource(ctx context.Context, src plugin.ExternalSource, query string) ([]domain.ExternalSuggestion, error) {
	id := src.ID()
	rl := src.RateLimit()
	key := cacheKey(id, query)
	start := time.Now()

	ttl := rl.CacheTTL
	if ttl <= 0 {
		ttl = a.ttl
	}
	timeout := rl.Timeout
	if timeout <= 0 {
		timeout = a.timeout
	}

	called := false
	v, err := a.cache.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]domain.ExternalSuggestion, error) {
		called = true
		if err := a.limiter(id, rl).acquire(ctx); err != nil {
			return nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := callSource(cctx, src, query)
		if err != nil {
			if errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return nil, &domain.ExternalSourceError{Source: domain.SourceID(id), Err: err}
		}
		return sanitize(id, res), nil
	})
	if err != nil {
		a.metrics.observe(id, outcomeOf(err), time.Since(start))
		a.logger.Warn().Err(err).Str("source", id).Msg("external source failed")
		a.reg.Emit(ctx, plugin.EventError, plugin.ErrorEvent{Op: "external_query", Source: id, Err: err.Error()})
		a.reg.Emit(ctx, plugin.EventExternalQueried, plugin.ExternalEvent{Source: id, Query: query, Err: err.Error()})
		return nil, err
	}
	outcome := "ok"
	if !called {
		outcome = "cached"
	}
	a.metrics.observe(id, outcome, time.Since(start))
	a.logger.Debug().Str("source", id).Int("results", len(v)).Bool("cached", !called).Dur("took", time.Since(start)).Msg("external source queried")
	a.reg.Emit(ctx, plugin.EventExternalQueried, plugin.ExternalEvent{Source: id, Query: query, Results: len(v), Cached: !called})
	return v, nil
}

// callSource reports a panicking adapter as an error.
func callSource(ctx context.Context, src plugin.ExternalSource, query string) (res []domain.ExternalSuggestion, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("source panicked: %v", rec)
		}
	}()
	return src.Query(ctx, query)
}

func (a *Aggregator) limiter(id string, rl plugin.RateLimit) *limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[id]
	if !ok {
		l = newLimiter(id, rl)
		a.limiters[id] = l
	}
	return l
}

// sanitize stamps the source id, defaults the type and bounds relevance.
func sanitize(source string, in []domain.ExternalSuggestion) []domain.ExternalSuggestion {
	out := make([]domain.ExternalSuggestion, 0, len(in))
	for _, s := range in {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			continue
		}
		s.Source = domain.SourceID(source)
		if s.Type == "" {
			s.Type = "mcp"
		}
		s.Relevance = clamp01(s.Relevance)
		out = append(out, s)
	}
	return out
}

func classify(source string, err error) Warning {
	w := Warning{Source: source, Message: err.Error()}
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		w.Kind = WarnRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		w.Kind = WarnTimeout
	default:
		w.Kind = WarnError
	}
	return w
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Merge deduplicates suggestions by case-folded name keeping the most
// relevant, drops those below minRelevance, and returns at most maxResults
// sorted by relevance, then source, then name.
func Merge(all []domain.ExternalSuggestion, maxResults int, minRelevance float64) []domain.ExternalSuggestion {
	best := make(map[string]domain.ExternalSuggestion, len(all))
	for _, s := range all {
		k := textutil.Fold(strings.TrimSpace(s.Name))
		prev, ok := best[k]
		if !ok || better(s, prev) {
			best[k] = s
		}
	}

	out := make([]domain.ExternalSuggestion, 0, len(best))
	for _, s := range best {
		if s.Relevance >= minRelevance {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func better(a, b domain.ExternalSuggestion) bool {
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.URL < b.URL
}
