// Package plugin is the extension registry: external sources, entry
// preprocessors, match enrichers and lifecycle event hooks.
package plugin

import (
	"context"
	"time"

	"github.com/kamusis/skillmatch/internal/domain"
)

// Kind is the capability a plugin provides.
type Kind string

const (
	KindExternalSource Kind = "external-source"
	KindPreprocessor   Kind = "preprocessor"
	KindEnricher       Kind = "enricher"
	KindEventHook      Kind = "event-hook"
)

// Kinds lists every plugin kind in display order.
var Kinds = []Kind{KindExternalSource, KindPreprocessor, KindEnricher, KindEventHook}

// Plugin is implemented by every registered extension.
type Plugin interface {
	ID() string
	Kind() Kind
}

// RatePolicy decides what happens when a source's request budget is spent.
type RatePolicy string

const (
	// PolicyWait queues the request for up to MaxWait.
	PolicyWait RatePolicy = "wait"
	// PolicyFailFast rejects the request immediately.
	PolicyFailFast RatePolicy = "fail-fast"
)

// RateLimit is a source's request budget and call bounds.
type RateLimit struct {
	PerMinute int
	Policy    RatePolicy
	MaxWait   time.Duration
	// Timeout bounds one call to the source. Zero uses the aggregator default.
	Timeout time.Duration
	// CacheTTL is how long results are reused. Zero uses the aggregator default.
	CacheTTL time.Duration
}

// ExternalSource looks up suggestions (MCP servers, tools) outside the catalog.
type ExternalSource interface {
	Plugin
	DisplayName() string
	RateLimit() RateLimit
	Query(ctx context.Context, query string) ([]domain.ExternalSuggestion, error)
}

// HealthChecker is optionally implemented by sources that can be probed.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Preprocessor transforms an entry before it is embedded. Lower Priority runs first.
type Preprocessor interface {
	Plugin
	Priority() int
	Process(ctx context.Context, e *domain.Entry) (*domain.Entry, error)
}

// Enricher adds metadata to ranked results. Lower Priority runs first.
type Enricher interface {
	Plugin
	Priority() int
	Enrich(ctx context.Context, results []domain.MatchResult, query string) ([]domain.MatchResult, error)
}

// EventHook observes lifecycle events. An empty Events list subscribes to all.
type EventHook interface {
	Plugin
	Events() []EventType
	Handle(ctx context.Context, ev Event) error
}

type hookFunc struct {
	id     string
	events []EventType
	fn     func(context.Context, Event) error
}

// NewHook adapts fn into an EventHook.
func NewHook(id string, fn func(context.Context, Event) error, events ...EventType) EventHook {
	return &hookFunc{id: id, events: events, fn: fn}
}

func (h *hookFunc) ID() string          { return h.id }
func (h *hookFunc) Kind() Kind          { return KindEventHook }
func (h *hookFunc) Events() []EventType { return h.events }

func (h *hookFunc) Handle(ctx context.Context, ev Event) error { return h.fn(ctx, ev) }
