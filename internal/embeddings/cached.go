package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kamusis/skillmatch/internal/cache"
	"github.com/kamusis/skillmatch/internal/textutil"
)

// CacheKey identifies the embedding of text under a model.
func CacheKey(modelID, text string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(textutil.Normalize(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// CachedProvider memoizes another provider's vectors. Concurrent requests for
// the same text share a single upstream call.
type CachedProvider struct {
	inner Provider
	cache *cache.Cache[[]float32]
	ttl   time.Duration
}

// NewCached wraps p with c. ttl <= 0 uses the cache default.
func NewCached(p Provider, c *cache.Cache[[]float32], ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: p, cache: c, ttl: ttl}
}

func (p *CachedProvider) ModelID() string { return p.inner.ModelID() }

func (p *CachedProvider) Dim() int { return p.inner.Dim() }

// Initialize forwards to the wrapped provider when it is fitted from a corpus.
// Cache keys include the model id, so vectors from an earlier fit are never served.
func (p *CachedProvider) Initialize(ctx context.Context, corpus []string) error {
	if f, ok := p.inner.(Fitter); ok {
		return f.Initialize(ctx, corpus)
	}
	return nil
}

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(p.inner.ModelID(), text)
	v, err := p.cache.GetOrCompute(ctx, key, p.ttl, func(ctx context.Context) ([]float32, error) {
		return p.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// Unwrap returns the wrapped provider.
func (p *CachedProvider) Unwrap() Provider { return p.inner }
