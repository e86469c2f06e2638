// Package matcher ranks catalog entries against free-text requests and falls
// back to gap analysis and external registries when nothing local fits.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kamusis/skillmatch/internal/catalog"
	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/embeddings"
	"github.com/kamusis/skillmatch/internal/external"
	"github.com/kamusis/skillmatch/internal/gap"
	"github.com/kamusis/skillmatch/internal/plugin"
	"github.com/kamusis/skillmatch/internal/vectorstore"
)

// ErrSkillNotFound is returned by GetSkill for an unknown id.
var ErrSkillNotFound = errors.New("skill not found")

// ErrExternalDisabled is returned by SearchExternal when no aggregator is wired.
var ErrExternalDisabled = errors.New("external search is not configured")

// Config holds the scoring thresholds.
type Config struct {
	MaxResults        int
	Weights           embeddings.Weights
	MatchThreshold    float64
	GapThreshold      float64
	ExternalThreshold float64
	// External fills the options a request leaves empty.
	External external.Options
	// IndexDir holds the persisted vector snapshot. Empty disables persistence.
	IndexDir string
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxResults:        5,
		Weights:           embeddings.DefaultWeights,
		MatchThreshold:    0.15,
		GapThreshold:      0.6,
		ExternalThreshold: 0.4,
		External:          external.DefaultOptions(),
	}
}

// Service serves match, gap and external requests over one catalog.
//
// mu pairs the embedding model with the store snapshot: queries hold it for
// reading while they embed and search, and an index build holds it for
// writing while it refits the model and swaps the store.
type Service struct {
	cfg      Config
	loader   catalog.Loader
	provider embeddings.Provider
	reg      *plugin.Registry
	store    *vectorstore.Store
	agg      *external.Aggregator
	gap      *gap.Analyzer
	logger   zerolog.Logger

	mu      sync.RWMutex
	buildMu sync.Mutex
	builtAt time.Time
	corpus  string
}

// Option configures a Service.
type Option func(*Service)

// WithAggregator enables external lookups.
func WithAggregator(a *external.Aggregator) Option { return func(s *Service) { s.agg = a } }

// WithGapAnalyzer replaces the default analyzer.
func WithGapAnalyzer(g *gap.Analyzer) Option { return func(s *Service) { s.gap = g } }

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// New returns a Service. The index is empty until BuildIndex runs.
// A nil reg uses plugin.Default().
func New(loader catalog.Loader, provider embeddings.Provider, reg *plugin.Registry, cfg Config, opts ...Option) *Service {
	if reg == nil {
		reg = plugin.Default()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultConfig().MaxResults
	}
	s := &Service{
		cfg:      cfg,
		loader:   loader,
		provider: provider,
		reg:      reg,
		store:    vectorstore.New(),
		logger:   log.Logger.With().Str("component", "matcher").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.gap == nil {
		s.gap = gap.New(reg, gap.WithLogger(s.logger))
	}
	return s
}

// MatchRequest is the input of MatchSkills.
type MatchRequest struct {
	Query              string             `json:"query"`
	MaxResults         int                `json:"maxResults,omitempty"`
	IncludeGapAnalysis bool               `json:"includeGapAnalysis"`
	IncludeExternal    bool               `json:"includeExternal"`
	Sources            []string           `json:"sources,omitempty"`
	Filter             vectorstore.Filter `json:"-"`
}

// MatchResponse is the output of MatchSkills.
type MatchResponse struct {
	Query    string               `json:"query"`
	Matches  []domain.MatchResult `json:"matches"`
	Gap      *domain.GapAnalysis  `json:"gapAnalysis,omitempty"`
	External *external.Result     `json:"external,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
	Took     time.Duration        `json:"took"`
}

// MatchSkills ranks the catalog for req.Query. Gap analysis runs when the
// best match scores below GapThreshold and external registries are queried
// when it scores below ExternalThreshold, each only when requested.
func (s *Service) MatchSkills(ctx context.Context, req MatchRequest) (*MatchResponse, error) {
	start := time.Now()
	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}
	limit, err := resolveMaxResults(req.MaxResults, s.cfg.MaxResults)
	if err != nil {
		return nil, err
	}
	if err := validateFilter(req.Filter); err != nil {
		return nil, err
	}
	sources, err := validateSources(req.Sources, s.reg.SourceIDs())
	if err != nil {
		return nil, err
	}
	ctx = ensureCorrelation(ctx)

	ranked, entries, err := s.rank(ctx, query, req.Filter)
	if err != nil {
		return nil, err
	}
	matches := s.cut(ranked, limit)
	resp := &MatchResponse{Query: query, Matches: matches}

	if enriched, err := s.reg.ApplyEnrichers(ctx, matches, query); err != nil {
		s.logger.Warn().Err(err).Msg("enricher failed, returning plain matches")
		resp.Warnings = append(resp.Warnings, err.Error())
	} else {
		resp.Matches = enriched
	}

	best := bestScore(matches)
	if req.IncludeGapAnalysis && best < s.cfg.GapThreshold {
		g := s.gap.Analyze(ctx, query, entries, matches)
		resp.Gap = &g
	}
	if req.IncludeExternal && best < s.cfg.ExternalThreshold {
		res, err := s.searchExternal(ctx, query, external.Options{Sources: sources})
		switch {
		case errors.Is(err, ErrExternalDisabled):
			resp.Warnings = append(resp.Warnings, err.Error())
		case err != nil:
			return nil, err
		default:
			resp.External = &res
		}
	}

	resp.Took = time.Since(start)
	s.reg.Emit(ctx, plugin.EventMatchComplete, plugin.MatchEvent{
		Query:    query,
		Results:  len(resp.Matches),
		TopScore: best,
		Gap:      resp.Gap != nil,
	})
	s.logger.Debug().Str("query", query).Int("matches", len(resp.Matches)).Float64("best", best).Dur("took", resp.Took).Msg("match complete")
	return resp, nil
}

// GapResponse is the output of AnalyzeGap.
type GapResponse struct {
	Query    string               `json:"query"`
	Analysis domain.GapAnalysis   `json:"analysis"`
	Nearest  []domain.MatchResult `json:"nearest"`
}

// AnalyzeGap proposes a new skill for query regardless of how well the
// catalog already covers it. Nearest lists the closest existing entries.
func (s *Service) AnalyzeGap(ctx context.Context, query string) (*GapResponse, error) {
	query, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	ctx = ensureCorrelation(ctx)
	ranked, entries, err := s.rank(ctx, query, vectorstore.Filter{})
	if err != nil {
		return nil, err
	}
	nearest := ranked[:min(3, len(ranked))]
	return &GapResponse{
		Query:    query,
		Analysis: s.gap.Analyze(ctx, query, entries, nearest),
		Nearest:  nearest,
	}, nil
}

// ExternalRequest is the input of SearchExternal.
type ExternalRequest struct {
	Query        string   `json:"query"`
	Sources      []string `json:"sources,omitempty"`
	MaxResults   int      `json:"maxResults,omitempty"`
	MinRelevance float64  `json:"minRelevance,omitempty"`
}

// SearchExternal queries external registries directly.
func (s *Service) SearchExternal(ctx context.Context, req ExternalRequest) (*external.Result, error) {
	query, err := validateQuery(req.Query)
	if err != nil {
		return nil, err
	}
	if _, err := resolveMaxResults(req.MaxResults, external.DefaultMaxResults); err != nil {
		return nil, err
	}
	sources, err := validateSources(req.Sources, s.reg.SourceIDs())
	if err != nil {
		return nil, err
	}
	res, err := s.searchExternal(ensureCorrelation(ctx), query, external.Options{
		Sources:      sources,
		MaxResults:   req.MaxResults,
		MinRelevance: req.MinRelevance,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) searchExternal(ctx context.Context, query string, opts external.Options) (external.Result, error) {
	if s.agg == nil {
		return external.Result{}, ErrExternalDisabled
	}
	def := s.cfg.External
	if len(opts.Sources) == 0 {
		opts.Sources = def.Sources
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.MinRelevance == 0 {
		opts.MinRelevance = def.MinRelevance
	}
	return s.agg.Query(ctx, query, opts)
}

// GetSkill returns the indexed entry with id.
func (s *Service) GetSkill(id string) (*domain.Entry, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if !s.store.Loaded() {
		return nil, domain.ErrIndexNotLoaded
	}
	e, ok := s.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}
	return e, nil
}

// ListSkills returns the indexed entries sorted by id, optionally limited to
// one category.
func (s *Service) ListSkills(category string) ([]*domain.Entry, error) {
	if category != "" {
		if err := validateLabel("category", category); err != nil {
			return nil, err
		}
	}
	if !s.store.Loaded() {
		return nil, domain.ErrIndexNotLoaded
	}
	entries := s.store.Entries()
	if category == "" {
		return entries, nil
	}
	return catalog.ByCategory(entries, category), nil
}

// Groups partitions the indexed entries by field.
func (s *Service) Groups(field vectorstore.GroupField) (map[string][]*domain.Entry, error) {
	return s.store.GroupBy(field)
}

// Status describes the loaded index.
type Status struct {
	Loaded     bool      `json:"loaded"`
	Entries    int       `json:"entries"`
	ModelID    string    `json:"modelId"`
	Dim        int       `json:"dim"`
	CorpusHash string    `json:"corpusHash,omitempty"`
	BuiltAt    time.Time `json:"builtAt,omitempty"`
}

// Status reports what the service is currently serving.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Loaded:     s.store.Loaded(),
		Entries:    s.store.Len(),
		ModelID:    s.store.ModelID(),
		Dim:        s.store.Dim(),
		CorpusHash: s.corpus,
		BuiltAt:    s.builtAt,
	}
}

// rank scores every entry passing filter, best first, and returns the
// catalog snapshot the scores were computed against.
func (s *Service) rank(ctx context.Context, query string, filter vectorstore.Filter) ([]domain.MatchResult, []*domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.store.Loaded() {
		return nil, nil, domain.ErrIndexNotLoaded
	}
	entries := s.store.Entries()
	if len(entries) == 0 {
		return []domain.MatchResult{}, entries, nil
	}
	qv, err := embeddings.EmbedText(ctx, s.provider, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.store.Search(qv, filter, 0)
	if err != nil {
		return nil, nil, err
	}
	for i := range results {
		r := &results[i]
		sem := r.SemanticScore
		kw := embeddings.KeywordMatch(query, r.Entry.Activation.Triggers, r.Entry.Activation.NotFor)
		r.KeywordScore = kw
		r.Score = embeddings.HybridScore(sem, kw, s.cfg.Weights)
		r.MatchType = matchType(sem, kw)
		r.Reasoning = reasoning(r.Entry, sem, kw)
	}
	vectorstore.SortResults(results)
	return results, entries, nil
}

// cut keeps results at or above MatchThreshold, at most limit of them.
func (s *Service) cut(ranked []domain.MatchResult, limit int) []domain.MatchResult {
	out := make([]domain.MatchResult, 0, limit)
	for _, r := range ranked {
		if len(out) == limit {
			break
		}
		if r.Score >= s.cfg.MatchThreshold {
			out = append(out, r)
		}
	}
	return out
}

func bestScore(matches []domain.MatchResult) float64 {
	if len(matches) == 0 {
		return 0
	}
	return matches[0].Score
}

func matchType(semantic, keyword float64) domain.MatchType {
	switch {
	case keyword <= 0:
		return domain.MatchSemantic
	case semantic <= 0:
		return domain.MatchKeyword
	default:
		return domain.MatchHybrid
	}
}

func reasoning(e *domain.Entry, semantic, keyword float64) string {
	var parts []string
	if keyword > 0.5 {
		parts = append(parts, "Strong keyword match with triggers")
	} else if keyword > 0 {
		parts = append(parts, "Partial keyword match with triggers")
	}
	if keyword < 0 {
		parts = append(parts, "Query mentions a case this skill is not for")
	}
	if semantic > 0.6 {
		parts = append(parts, fmt.Sprintf("High semantic similarity (%.0f%%)", math.Round(semantic*100)))
	}
	if len(e.Tags) > 0 {
		ids := make([]string, 0, 3)
		for _, t := range e.Tags {
			if len(ids) == 3 {
				break
			}
			ids = append(ids, t.ID)
		}
		parts = append(parts, "Related tags: "+strings.Join(ids, ", "))
	}
	if len(parts) == 0 {
		if e.Category == "" {
			return "Matches on overall description"
		}
		return "Matches based on " + e.Category + " category"
	}
	return strings.Join(parts, ". ")
}

func ensureCorrelation(ctx context.Context) context.Context {
	if plugin.CorrelationID(ctx) != "" {
		return ctx
	}
	return plugin.WithCorrelationID(ctx, "")
}
