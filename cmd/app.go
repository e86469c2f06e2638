package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kamusis/skillmatch/internal/cache"
	"github.com/kamusis/skillmatch/internal/catalog"
	"github.com/kamusis/skillmatch/internal/config"
	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/embeddings"
	"github.com/kamusis/skillmatch/internal/external"
	"github.com/kamusis/skillmatch/internal/logging"
	"github.com/kamusis/skillmatch/internal/matcher"
	"github.com/kamusis/skillmatch/internal/plugin"
)

// app is everything a command needs, wired from config.
type app struct {
	cfg      *config.Config
	reg      *plugin.Registry
	metrics  *prometheus.Registry
	embCache *cache.Cache[[]float32]
	extCache *cache.Cache[[]domain.ExternalSuggestion]
	provider embeddings.Provider
	svc      *matcher.Service
	sources  []string

	closers []func() error
}

// loadConfig reads --config (or the default path).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'skillmatch init' first.", err)
	}
	return cfg, nil
}

// newApp loads config, configures logging and builds the matcher. Caches are
// restored from disk; call close to flush them again.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	lc := cfg.Logging
	if flagLogLevel != "" {
		lc.Level = flagLogLevel
	}
	closeLog, err := logging.Setup(logging.Options{Level: lc.Level, Format: lc.Format, File: lc.File})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		reg:     plugin.Default(),
		metrics: prometheus.NewRegistry(),
		closers: []func() error{closeLog},
	}
	if err := a.wire(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	embStore, err := a.cacheStore("embeddings")
	if err != nil {
		return err
	}
	a.embCache, err = cache.New[[]float32](cfg.Cache.MaxEntries,
		cache.WithName("embeddings"),
		cache.WithDefaultTTL(cfg.Cache.EmbeddingTTL.D()),
		cache.WithComputeTimeout(cfg.Embeddings.Timeout.D()),
		cache.WithStore(embStore),
		cache.WithMetrics(a.metrics),
		cache.WithLogger(logging.Component("cache")),
	)
	if err != nil {
		return err
	}
	extStore, err := a.cacheStore("external")
	if err != nil {
		return err
	}
	a.extCache, err = cache.New[[]domain.ExternalSuggestion](cfg.Cache.MaxEntries,
		cache.WithName("external"),
		cache.WithDefaultTTL(cfg.Cache.ExternalTTL.D()),
		cache.WithComputeTimeout(cfg.External.Deadline.D()),
		cache.WithStore(extStore),
		cache.WithMetrics(a.metrics),
		cache.WithLogger(logging.Component("cache")),
	)
	if err != nil {
		return err
	}
	restoreCache(ctx, a.embCache)
	restoreCache(ctx, a.extCache)

	a.reg.MustRegister(plugin.UsageHints{})
	a.sources, err = external.RegisterBuiltins(a.reg, external.BuiltinOptions{
		Fetcher:     external.NewFetcher(cfg.External.Timeout.D(), cfg.External.UserAgent),
		Overrides:   sourceOverrides(cfg.External.Sources),
		GitHubToken: githubToken,
	})
	if err != nil {
		return err
	}
	agg := external.New(a.reg, a.extCache,
		external.WithSourceTimeout(cfg.External.Timeout.D()),
		external.WithDeadline(cfg.External.Deadline.D()),
		external.WithCacheTTL(cfg.Cache.ExternalTTL.D()),
		external.WithMetrics(a.metrics),
		external.WithLogger(logging.Component("external")),
	)

	a.provider = a.newProvider()
	catalogLog := logging.Component("catalog")
	a.svc = matcher.New(
		catalog.DirLoader{Root: cfg.CatalogPath, Logger: &catalogLog},
		embeddings.NewCached(a.provider, a.embCache, cfg.Cache.EmbeddingTTL.D()),
		a.reg,
		matcherConfig(cfg),
		matcher.WithAggregator(agg),
		matcher.WithLogger(logging.Component("matcher")),
	)
	return nil
}

// newProvider builds the configured embeddings provider. A remote provider
// that cannot be constructed falls back to the local engine; the choice is
// made once so one index never mixes models.
func (a *app) newProvider() embeddings.Provider {
	logger := logging.Component("embeddings")
	embCfg, err := embeddings.LoadConfig(a.cfg.Embeddings)
	if err == nil {
		var p embeddings.Provider
		if p, err = embeddings.NewFromConfig(embCfg); err == nil {
			return p
		}
	}
	logger.Warn().Err(err).Str("provider", a.cfg.Embeddings.Provider).Msg("falling back to local embeddings")
	return embeddings.NewEngine(a.cfg.Embeddings.Dim)
}

func (a *app) cacheStore(name string) (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendFile:
		return cache.NewFileStore(filepath.Join(a.cfg.DataDir, "cache", name+".json"), name), nil
	case config.BackendSQLite:
		s, err := cache.OpenSQLiteStore(filepath.Join(a.cfg.DataDir, "cache.db"), name)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, nil
	}
}

type loadable interface {
	Name() string
	Load(ctx context.Context) (int, error)
}

func restoreCache(ctx context.Context, c loadable) {
	logger := logging.Component("cache")
	n, err := c.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("cache", c.Name()).Msg("starting with an empty cache")
		return
	}
	logger.Debug().Int("entries", n).Str("cache", c.Name()).Msg("cache restored")
}

// ensureIndex builds the index, reusing the persisted snapshot when possible.
func (a *app) ensureIndex(ctx context.Context) (*matcher.BuildReport, error) {
	report, err := a.svc.BuildIndex(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("cannot build index: %w", err)
	}
	return report, nil
}

// close flushes caches and releases stores. Every step runs; errors are joined.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.embCache != nil {
		errs = append(errs, a.embCache.Flush(ctx))
	}
	if a.extCache != nil {
		errs = append(errs, a.extCache.Flush(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// withApp runs fn with a wired app and always closes it.
func withApp(ctx context.Context, fn func(*app) error) (err error) {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(ctx); cerr != nil {
			logger := logging.Component("app")
			logger.Warn().Err(cerr).Msg("shutdown incomplete")
		}
	}()
	return fn(a)
}

func matcherConfig(cfg *config.Config) matcher.Config {
	m := cfg.Matching
	return matcher.Config{
		MaxResults:        m.MaxResults,
		Weights:           embeddings.Weights{Semantic: m.SemanticWeight, Keyword: m.KeywordWeight},
		MatchThreshold:    m.MatchThreshold,
		GapThreshold:      m.GapThreshold,
		ExternalThreshold: m.ExternalThreshold,
		External: external.Options{
			Sources:      cfg.External.DefaultSources,
			MaxResults:   cfg.External.MaxResults,
			MinRelevance: cfg.External.MinRelevance,
		},
		IndexDir: filepath.Join(cfg.DataDir, "index"),
	}
}

func sourceOverrides(in map[string]config.SourceConfig) map[string]external.SourceConfig {
	out := make(map[string]external.SourceConfig, len(in))
	for id, s := range in {
		out[strings.ToLower(strings.TrimSpace(id))] = external.SourceConfig{
			BaseURL:   s.BaseURL,
			PerMinute: s.PerMinute,
			Policy:    s.Policy,
			MaxWait:   s.MaxWait.D(),
			Timeout:   s.Timeout.D(),
			CacheTTL:  s.CacheTTL.D(),
			Disabled:  s.Disabled,
		}
	}
	return out
}

func githubToken() string {
	v, err := config.GetConfigValue(config.KeyGitHubToken)
	if err != nil {
		logger := logging.Component("external")
		logger.Debug().Err(err).Msg("GITHUB_TOKEN unavailable")
		return ""
	}
	return v
}
