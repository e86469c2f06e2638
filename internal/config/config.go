package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SKILLMATCH_MATCHING_GAP_THRESHOLD.
const EnvPrefix = "SKILLMATCH"

// Config is the in-memory representation of ~/.skillmatch/config.yaml.
type Config struct {
	CatalogPath string           `mapstructure:"catalog_path" yaml:"catalog_path"`
	DataDir     string           `mapstructure:"data_dir" yaml:"data_dir"`
	Embeddings  EmbeddingsConfig `mapstructure:"embeddings" yaml:"embeddings"`
	Matching    MatchingConfig   `mapstructure:"matching" yaml:"matching"`
	Cache       CacheConfig      `mapstructure:"cache" yaml:"cache"`
	External    ExternalConfig   `mapstructure:"external" yaml:"external"`
	Watch       WatchConfig      `mapstructure:"watch" yaml:"watch"`
	Logging     LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// EmbeddingsConfig selects the embeddings provider. The API key is never
// stored here; it comes from OPENAI_API_KEY.
type EmbeddingsConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Dim      int    `mapstructure:"dim" yaml:"dim"`
	// Timeout bounds one embedding computation.
	Timeout Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MatchingConfig holds scoring weights and cut-offs.
type MatchingConfig struct {
	MaxResults        int     `mapstructure:"max_results" yaml:"max_results"`
	SemanticWeight    float64 `mapstructure:"semantic_weight" yaml:"semantic_weight"`
	KeywordWeight     float64 `mapstructure:"keyword_weight" yaml:"keyword_weight"`
	MatchThreshold    float64 `mapstructure:"match_threshold" yaml:"match_threshold"`
	GapThreshold      float64 `mapstructure:"gap_threshold" yaml:"gap_threshold"`
	ExternalThreshold float64 `mapstructure:"external_threshold" yaml:"external_threshold"`
}

// CacheConfig selects where caches persist.
type CacheConfig struct {
	Backend         string   `mapstructure:"backend" yaml:"backend"`
	MaxEntries      int      `mapstructure:"max_entries" yaml:"max_entries"`
	EmbeddingTTL    Duration `mapstructure:"embedding_ttl" yaml:"embedding_ttl"`
	ExternalTTL     Duration `mapstructure:"external_ttl" yaml:"external_ttl"`
	JanitorInterval Duration `mapstructure:"janitor_interval" yaml:"janitor_interval"`
}

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ExternalConfig configures the external source aggregator.
type ExternalConfig struct {
	DefaultSources []string                `mapstructure:"default_sources" yaml:"default_sources"`
	MaxResults     int                     `mapstructure:"max_results" yaml:"max_results"`
	MinRelevance   float64                 `mapstructure:"min_relevance" yaml:"min_relevance"`
	Timeout        Duration                `mapstructure:"timeout" yaml:"timeout"`
	Deadline       Duration                `mapstructure:"deadline" yaml:"deadline"`
	UserAgent      string                  `mapstructure:"user_agent" yaml:"user_agent"`
	Sources        map[string]SourceConfig `mapstructure:"sources" yaml:"sources,omitempty"`
}

// SourceConfig overrides one built-in source. Zero fields keep the default.
type SourceConfig struct {
	BaseURL   string   `mapstructure:"base_url" yaml:"base_url,omitempty"`
	PerMinute int      `mapstructure:"per_minute" yaml:"per_minute,omitempty"`
	Policy    string   `mapstructure:"policy" yaml:"policy,omitempty"`
	MaxWait   Duration `mapstructure:"max_wait" yaml:"max_wait,omitempty"`
	Timeout   Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	CacheTTL  Duration `mapstructure:"cache_ttl" yaml:"cache_ttl,omitempty"`
	Disabled  bool     `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// WatchConfig configures catalog watching.
type WatchConfig struct {
	Debounce Duration `mapstructure:"debounce" yaml:"debounce"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// Duration is a time.Duration written to YAML as a string such as "15m".
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = v
	return nil
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(v), nil
}

// Dir returns the absolute path to ~/.skillmatch/.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".skillmatch"), nil
}

// ConfigPath returns the absolute path to ~/.skillmatch/config.yaml.
func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the default Config written on first skillmatch init.
func DefaultConfig() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return &Config{
		CatalogPath: filepath.Join(dir, "skills"),
		DataDir:     filepath.Join(dir, "data"),
		Embeddings: EmbeddingsConfig{
			Provider: "local",
			Dim:      512,
			Timeout:  Duration(30 * time.Second),
		},
		Matching: MatchingConfig{
			MaxResults:        5,
			SemanticWeight:    0.7,
			KeywordWeight:     0.3,
			MatchThreshold:    0.15,
			GapThreshold:      0.6,
			ExternalThreshold: 0.4,
		},
		Cache: CacheConfig{
			Backend:         BackendFile,
			MaxEntries:      10000,
			EmbeddingTTL:    Duration(7 * 24 * time.Hour),
			ExternalTTL:     Duration(15 * time.Minute),
			JanitorInterval: Duration(5 * time.Minute),
		},
		External: ExternalConfig{
			DefaultSources: []string{"mcp-registry", "smithery"},
			MaxResults:     5,
			MinRelevance:   0.35,
			Timeout:        Duration(10 * time.Second),
			Deadline:       Duration(20 * time.Second),
			UserAgent:      "skillmatch",
		},
		Watch:   WatchConfig{Debounce: Duration(500 * time.Millisecond)},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}, nil
}

// Load reads path (or ~/.skillmatch/config.yaml when path is empty) on top
// of the defaults and applies SKILLMATCH_* environment overrides. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	def, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, def)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if cfg.CatalogPath, err = ExpandPath(cfg.CatalogPath); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = ExpandPath(cfg.DataDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("catalog_path", d.CatalogPath)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("embeddings.provider", d.Embeddings.Provider)
	v.SetDefault("embeddings.model", d.Embeddings.Model)
	v.SetDefault("embeddings.base_url", d.Embeddings.BaseURL)
	v.SetDefault("embeddings.dim", d.Embeddings.Dim)
	v.SetDefault("embeddings.timeout", d.Embeddings.Timeout.String())
	v.SetDefault("matching.max_results", d.Matching.MaxResults)
	v.SetDefault("matching.semantic_weight", d.Matching.SemanticWeight)
	v.SetDefault("matching.keyword_weight", d.Matching.KeywordWeight)
	v.SetDefault("matching.match_threshold", d.Matching.MatchThreshold)
	v.SetDefault("matching.gap_threshold", d.Matching.GapThreshold)
	v.SetDefault("matching.external_threshold", d.Matching.ExternalThreshold)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.embedding_ttl", d.Cache.EmbeddingTTL.String())
	v.SetDefault("cache.external_ttl", d.Cache.ExternalTTL.String())
	v.SetDefault("cache.janitor_interval", d.Cache.JanitorInterval.String())
	v.SetDefault("external.default_sources", d.External.DefaultSources)
	v.SetDefault("external.max_results", d.External.MaxResults)
	v.SetDefault("external.min_relevance", d.External.MinRelevance)
	v.SetDefault("external.timeout", d.External.Timeout.String())
	v.SetDefault("external.deadline", d.External.Deadline.String())
	v.SetDefault("external.user_agent", d.External.UserAgent)
	v.SetDefault("watch.debounce", d.Watch.Debounce.String())
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
}

var durationType = reflect.TypeOf(Duration(0))

// decodeHook turns duration strings into Duration and comma separated
// strings (from the environment) into string slices.
func decodeHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := data.(string)
	switch {
	case to == durationType:
		return parseDuration(s)
	case to.Kind() == reflect.Slice && to.Elem().Kind() == reflect.String:
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	return data, nil
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	m := c.Matching
	if m.MaxResults < 1 || m.MaxResults > 20 {
		return fmt.Errorf("matching.max_results must be between 1 and 20, got %d", m.MaxResults)
	}
	if m.SemanticWeight < 0 || m.KeywordWeight < 0 || m.SemanticWeight+m.KeywordWeight == 0 {
		return fmt.Errorf("matching weights must be non-negative and not both zero")
	}
	for name, v := range map[string]float64{
		"matching.match_threshold":    m.MatchThreshold,
		"matching.gap_threshold":      m.GapThreshold,
		"matching.external_threshold": m.ExternalThreshold,
		"external.min_relevance":      c.External.MinRelevance,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
		}
	}
	switch c.Cache.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("cache.backend must be file, sqlite or memory, got %q", c.Cache.Backend)
	}
	if c.Embeddings.Dim < 0 {
		return fmt.Errorf("embeddings.dim must not be negative")
	}
	return nil
}

// Save marshals cfg and writes it to path (or ~/.skillmatch/config.yaml).
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
