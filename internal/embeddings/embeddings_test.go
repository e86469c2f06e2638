package embeddings

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kamusis/skillmatch/internal/cache"
	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		a := make([]float32, 16)
		b := make([]float32, 16)
		for j := range a {
			a[j] = rng.Float32()*2 - 1
			b[j] = rng.Float32()*2 - 1
		}
		self, err := Cosine(a, a)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, self, 1e-12)

		ab, err := Cosine(a, b)
		require.NoError(t, err)
		ba, err := Cosine(b, a)
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
		assert.LessOrEqual(t, math.Abs(ab), 1.0)
	}

	zero := make([]float32, 3)
	s, err := Cosine(zero, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)

	s, err = Cosine([]float32{2, 0}, []float32{5, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)
}

func TestCosineRejectsBadInput(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = Cosine([]float32{float32(math.NaN()), 1}, []float32{1, 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Cosine([]float32{1, 1}, []float32{float32(math.Inf(1)), 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSimilarityRequiresSameModel(t *testing.T) {
	a := Embedding{Vector: []float32{1, 0}, Dimension: 2, ModelID: "m1"}
	b := Embedding{Vector: []float32{1, 0}, Dimension: 2, ModelID: "m2"}
	_, err := Similarity(a, b)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestNormalizeL2(t *testing.T) {
	v := NormalizeL2([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, NormalizeL2([]float32{0, 0}))
}

func TestKeywordMatchNoTriggersIsZero(t *testing.T) {
	for _, q := range []string{"", "anything at all", "mobile apps"} {
		assert.Equal(t, 0.0, KeywordMatch(q, nil, nil))
		assert.Equal(t, 0.0, KeywordMatch(q, []string{}, []string{"mobile apps"}))
	}
}

func TestKeywordMatchCaseInsensitive(t *testing.T) {
	trig := []string{"website"}
	assert.Equal(t, KeywordMatch("website", trig, nil), KeywordMatch("WEBSITE", trig, nil))
	assert.Greater(t, KeywordMatch("WEBSITE", trig, nil), 0.0)
}

func TestKeywordMatchNotForNeverIncreases(t *testing.T) {
	triggers := []string{"web design", "website", "landing page"}
	queries := []string{
		"design a landing page for mobile apps",
		"native apps website",
		"mobile apps",
		"unrelated",
	}
	for _, q := range queries {
		base := KeywordMatch(q, triggers, nil)
		penalized := KeywordMatch(q, triggers, []string{"mobile apps", "native apps"})
		assert.LessOrEqual(t, penalized, base, q)
		assert.GreaterOrEqual(t, penalized, -1.0, q)
	}
	assert.Less(t, KeywordMatch("website for mobile apps", triggers, []string{"mobile apps"}),
		KeywordMatch("website for mobile apps", triggers, nil))
}

func TestKeywordMatchSaturatesAndPartialWords(t *testing.T) {
	triggers := []string{"drone", "UAV", "computer vision", "SLAM", "PID control"}
	s := KeywordMatch("drone UAV computer vision SLAM PID control", triggers, nil)
	assert.Equal(t, 1.0, s)

	partial := KeywordMatch("a designer for my page", []string{"web design"}, nil)
	assert.InDelta(t, 0.25, partial, 1e-9)

	assert.Equal(t, 0.0, KeywordMatch("build a tool", []string{"ui"}, nil), "short triggers match whole words only")
	assert.Equal(t, 0.5, KeywordMatch("build a UI", []string{"ui"}, nil))
}

func TestHybridScoreBounds(t *testing.T) {
	assert.Equal(t, 0.0, HybridScore(0, 0))
	vals := []float64{-1, -0.5, 0, 0.1, 0.33, 0.5, 0.9, 1}
	for _, s := range vals {
		for _, k := range vals {
			h := HybridScore(s, k)
			assert.GreaterOrEqual(t, h, math.Min(s, k))
			assert.LessOrEqual(t, h, math.Max(s, k))
			assert.GreaterOrEqual(t, HybridScore(s+0.01, k), h, "monotonic in semantic")
			assert.GreaterOrEqual(t, HybridScore(s, k+0.01), h, "monotonic in keyword")
		}
	}
	assert.InDelta(t, 0.7*0.5+0.3*1.0, HybridScore(0.5, 1.0), 1e-12)
	assert.InDelta(t, 0.5, HybridScore(0, 1, Weights{Semantic: 1, Keyword: 1}), 1e-12)
	assert.InDelta(t, HybridScore(0.2, 0.8), HybridScore(0.2, 0.8, Weights{Semantic: -1}), 1e-12)
}

func TestEngineDeterministicAndNormalized(t *testing.T) {
	e := NewEngine(128)
	require.NoError(t, e.Initialize(context.Background(), []string{
		"web design and typography",
		"drone navigation with SLAM",
		"model context protocol servers",
	}))

	a, err := e.Embed(context.Background(), "responsive web design")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "responsive web design")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 128)

	var sum float64
	for _, x := range a {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestEngineEmptyInputIsZeroVector(t *testing.T) {
	e := NewEngine(0)
	v, err := e.Embed(context.Background(), "  ?! a an  ")
	require.NoError(t, err)
	assert.Len(t, v, DefaultDim)
	for _, x := range v {
		assert.Equal(t, float32(0), x)
	}
}

func TestEngineDiscriminatesAfterFit(t *testing.T) {
	docs := []string{
		"Expert in web design, brand identity, color theory, typography",
		"Expert MCP server developer creating Model Context Protocol servers",
		"Expert in drone systems, computer vision, SLAM, autonomous navigation",
	}
	e := NewEngine(512)
	require.NoError(t, e.Initialize(context.Background(), docs))

	q := e.Embedding("autonomous drone navigation")
	var best int
	var bestScore = -2.0
	for i, d := range docs {
		s, err := Similarity(q, e.Embedding(d))
		require.NoError(t, err)
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	assert.Equal(t, 2, best)
}

func TestEngineReinitializeChangesModelAndIsRaceFree(t *testing.T) {
	e := NewEngine(64)
	before := e.ModelID()
	require.NoError(t, e.Initialize(context.Background(), []string{"alpha beta"}))
	fitted := e.ModelID()
	assert.NotEqual(t, before, fitted)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				emb := e.Embedding("alpha gamma delta")
				assert.Len(t, emb.Vector, 64)
				if i == 0 && j%10 == 0 {
					_ = e.Initialize(context.Background(), []string{"alpha", "gamma delta"})
				}
			}
		}(i)
	}
	wg.Wait()
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) ModelID() string { return "counting" }
func (p *countingProvider) Dim() int        { return 2 }
func (p *countingProvider) Embed(context.Context, string) ([]float32, error) {
	p.calls.Add(1)
	return []float32{1, 0}, nil
}

func TestCachedProviderMemoizesByNormalizedText(t *testing.T) {
	c, err := cache.New[[]float32](16)
	require.NoError(t, err)
	inner := &countingProvider{}
	p := NewCached(inner, c, 0)

	_, err = p.Embed(context.Background(), "Hello World")
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "  hello   world ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	emb, err := EmbedText(context.Background(), p, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "counting", emb.ModelID)
	assert.Equal(t, 2, emb.Dimension)
}

func TestIsFittedLooksThroughCache(t *testing.T) {
	c, err := cache.New[[]float32](16)
	require.NoError(t, err)

	assert.True(t, IsFitted(NewEngine(DefaultDim)))
	assert.True(t, IsFitted(NewCached(NewEngine(DefaultDim), c, 0)))
	assert.False(t, IsFitted(&countingProvider{}))
	assert.False(t, IsFitted(NewCached(&countingProvider{}, c, 0)))
}

func TestNewFromConfigDefaultsToLocal(t *testing.T) {
	p, err := NewFromConfig(&Config{Dim: 256})
	require.NoError(t, err)
	assert.Equal(t, 256, p.Dim())
	_, ok := p.(Fitter)
	assert.True(t, ok)

	_, err = NewFromConfig(&Config{Provider: "openai"})
	assert.Error(t, err)
	_, err = NewFromConfig(&Config{Provider: "nope"})
	assert.Error(t, err)
}
