package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
)

type openAIProvider struct {
	model  string
	client *openai.Client
	dim    atomic.Int64
}

// NewOpenAI constructs an OpenAI-compatible embeddings provider.
// BaseURL may point at any server speaking the /embeddings API.
func NewOpenAI(cfg *Config) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embeddings model is not configured (set embeddings.model)")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings API key is not configured (set OPENAI_API_KEY)")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	p := &openAIProvider{
		model:  cfg.Model,
		client: openai.NewClientWithConfig(oc),
	}
	p.dim.Store(int64(cfg.Dim))
	return p, nil
}

func (p *openAIProvider) ModelID() string {
	return "openai:" + p.model
}

// Dim is 0 until the first response unless configured.
func (p *openAIProvider) Dim() int {
	return int(p.dim.Load())
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.Dim()), nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response missing embedding")
	}
	out := resp.Data[0].Embedding
	if want := p.dim.Load(); want > 0 && int64(len(out)) != want {
		return nil, fmt.Errorf("embeddings response dim %d, expected %d", len(out), want)
	}
	p.dim.Store(int64(len(out)))
	return NormalizeL2(out), nil
}
