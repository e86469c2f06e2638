package embeddings

import (
	"context"
	"fmt"

	"github.com/kamusis/skillmatch/internal/config"
)

// Provider embeds text into a fixed-length float vector.
//
// Implementations must be deterministic for the same input text and model.
type Provider interface {
	ModelID() string
	Dim() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fitter is implemented by providers whose term weights are fitted from a corpus.
type Fitter interface {
	Initialize(ctx context.Context, corpus []string) error
}

// IsFitted reports whether the provider at the bottom of any wrapping is a
// Fitter. Wrappers such as CachedProvider implement Fitter unconditionally.
func IsFitted(p Provider) bool {
	for {
		u, ok := p.(interface{ Unwrap() Provider })
		if !ok {
			break
		}
		p = u.Unwrap()
	}
	_, ok := p.(Fitter)
	return ok
}

// Embedding is a vector tagged with the model that produced it.
type Embedding struct {
	Vector    []float32 `json:"vector"`
	Dimension int       `json:"dimension"`
	ModelID   string    `json:"modelId"`
}

// EmbedText embeds text with p and tags the result with p's model.
func EmbedText(ctx context.Context, p Provider, text string) (Embedding, error) {
	if e, ok := p.(*Engine); ok {
		return e.Embedding(text), nil
	}
	model := p.ModelID()
	v, err := p.Embed(ctx, text)
	if err != nil {
		return Embedding{}, err
	}
	if err := CheckFinite(v); err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: v, Dimension: len(v), ModelID: model}, nil
}

// Config contains the resolved embeddings configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Dim      int
}

// LoadConfig fills the API key from the environment first, then ~/.skillmatch/.env.
func LoadConfig(cfg config.EmbeddingsConfig) (*Config, error) {
	apiKey, err := config.GetConfigValue(config.KeyOpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Config{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   apiKey,
		BaseURL:  baseURL,
		Dim:      cfg.Dim,
	}, nil
}

// NewFromConfig returns an embeddings provider.
func NewFromConfig(cfg *Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embeddings config is nil")
	}
	switch cfg.Provider {
	case "", "local":
		return NewEngine(cfg.Dim), nil
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", cfg.Provider)
	}
}
