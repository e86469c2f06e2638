package plugin

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kamusis/skillmatch/internal/domain"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Registry holds registered plugins. It is safe for concurrent use; plugin
// callbacks run without the registry lock held.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	logger  zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration and hook failures.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{plugins: make(map[string]Plugin), logger: log.Logger}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With().Str("component", "plugins").Logger()
	return r
}

// Register adds p. A plugin already registered under the same id is replaced.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return domain.NewValidationError("plugin", "plugin is nil")
	}
	id := p.ID()
	if !pluginIDPattern.MatchString(id) {
		return domain.NewValidationError("plugin.id", "%q is not a kebab-case id", id)
	}
	if err := checkKind(p); err != nil {
		return err
	}

	r.mu.Lock()
	prev, replaced := r.plugins[id]
	r.plugins[id] = p
	r.mu.Unlock()

	if replaced {
		r.logger.Warn().Str("id", id).Str("kind", string(prev.Kind())).Msg("plugin already registered, replacing")
	} else {
		r.logger.Debug().Str("id", id).Str("kind", string(p.Kind())).Msg("registered plugin")
	}
	return nil
}

// MustRegister is Register for built-ins known to be valid.
func (r *Registry) MustRegister(plugins ...Plugin) {
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

func checkKind(p Plugin) error {
	var ok bool
	switch p.Kind() {
	case KindExternalSource:
		_, ok = p.(ExternalSource)
	case KindPreprocessor:
		_, ok = p.(Preprocessor)
	case KindEnricher:
		_, ok = p.(Enricher)
	case KindEventHook:
		_, ok = p.(EventHook)
	default:
		return domain.NewValidationError("plugin.kind", "unknown kind %q", p.Kind())
	}
	if !ok {
		return domain.NewValidationError("plugin.kind", "plugin %q does not implement %s", p.ID(), p.Kind())
	}
	return nil
}

// Unregister removes the plugin with id and reports whether it existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return false
	}
	delete(r.plugins, id)
	return true
}

// Get returns the plugin registered under id.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// GetAll returns the plugins of kind. Preprocessors and enrichers come in
// execution order (priority, then id); other kinds are sorted by id.
func (r *Registry) GetAll(kind Kind) []Plugin {
	r.mu.RLock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if p.Kind() == kind {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := priority(out[i]), priority(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

func priority(p Plugin) int {
	switch v := p.(type) {
	case Preprocessor:
		return v.Priority()
	case Enricher:
		return v.Priority()
	}
	return 0
}

// ExternalSource returns the source registered under id.
func (r *Registry) ExternalSource(id string) (ExternalSource, bool) {
	p, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := p.(ExternalSource)
	return s, ok
}

// ExternalSources returns every registered source sorted by id.
func (r *Registry) ExternalSources() []ExternalSource {
	all := r.GetAll(KindExternalSource)
	out := make([]ExternalSource, 0, len(all))
	for _, p := range all {
		out = append(out, p.(ExternalSource))
	}
	return out
}

// SourceIDs returns the ids of every registered source, sorted.
func (r *Registry) SourceIDs() []string {
	srcs := r.ExternalSources()
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.ID()
	}
	return out
}

// ApplyPreprocessors runs every preprocessor over a copy of e, lowest
// priority first. The input entry is never modified.
func (r *Registry) ApplyPreprocessors(ctx context.Context, e *domain.Entry) (*domain.Entry, error) {
	out := e.Clone()
	for _, p := range r.GetAll(KindPreprocessor) {
		pp := p.(Preprocessor)
		next, err := process(ctx, pp, out)
		if err != nil {
			return nil, fmt.Errorf("preprocessor %s on %s: %w", pp.ID(), e.ID, err)
		}
		if next != nil {
			out = next
		}
	}
	return out, nil
}

// ApplyEnrichers runs every enricher over results, lowest priority first.
func (r *Registry) ApplyEnrichers(ctx context.Context, results []domain.MatchResult, query string) ([]domain.MatchResult, error) {
	out := results
	for _, p := range r.GetAll(KindEnricher) {
		en := p.(Enricher)
		next, err := enrich(ctx, en, out, query)
		if err != nil {
			return nil, fmt.Errorf("enricher %s: %w", en.ID(), err)
		}
		out = next
	}
	return out, nil
}

// process and enrich turn a plugin panic into an error.
func process(ctx context.Context, pp Preprocessor, e *domain.Entry) (next *domain.Entry, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return pp.Process(ctx, e)
}

func enrich(ctx context.Context, en Enricher, results []domain.MatchResult, query string) (next []domain.MatchResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return en.Enrich(ctx, results, query)
}

// Emit delivers an event to every hook subscribed to typ and returns it.
// A failing or panicking hook is logged and does not affect the others or
// the caller.
func (r *Registry) Emit(ctx context.Context, typ EventType, data any) Event {
	ev := Event{
		ID:            uuid.NewString(),
		CorrelationID: CorrelationID(ctx),
		Timestamp:     time.Now().UTC(),
		Type:          typ,
		Data:          data,
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.ID
	}

	for _, p := range r.GetAll(KindEventHook) {
		h := p.(EventHook)
		if !subscribed(h, typ) {
			continue
		}
		r.dispatch(ctx, h, ev)
	}
	return ev
}

func subscribed(h EventHook, typ EventType) bool {
	events := h.Events()
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == typ {
			return true
		}
	}
	return false
}

func (r *Registry) dispatch(ctx context.Context, h EventHook, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("hook", h.ID()).Str("event", string(ev.Type)).Interface("panic", rec).Msg("event hook panicked")
		}
	}()
	if err := h.Handle(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Str("hook", h.ID()).Str("event", string(ev.Type)).Msg("event hook failed")
	}
}

// Stats counts registered plugins per kind.
func (r *Registry) Stats() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		out[k] = 0
	}
	for _, p := range r.plugins {
		out[p.Kind()]++
	}
	return out
}

var (
	defaultMu  sync.Mutex
	defaultReg *Registry
)

// Default returns the process-wide registry, creating it with the built-in
// preprocessor on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultReg == nil {
		defaultReg = New()
		defaultReg.MustRegister(Normalization{})
	}
	return defaultReg
}

// ResetDefault discards the process-wide registry. The next Default call
// builds a fresh one.
func ResetDefault() {
	defaultMu.Lock()
	defaultReg = nil
	defaultMu.Unlock()
}
