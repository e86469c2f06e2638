package embeddings

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultDim is the width of local TF-IDF vectors.
const DefaultDim = 512

// Engine is the local TF-IDF embedder. Terms are weighted by inverse document
// frequency over the fitted corpus and projected into Dim buckets with a
// signed feature hash, then L2 normalized.
//
// Initialize swaps in a new fitted model atomically; concurrent Embed calls
// observe either the old or the new model.
type Engine struct {
	dim   int
	model atomic.Pointer[tfidfModel]
}

type tfidfModel struct {
	id   string
	docs int
	idf  map[string]float64
}

// NewEngine returns an unfitted engine. Unfitted, every known term weighs 1.
func NewEngine(dim int) *Engine {
	if dim <= 0 {
		dim = DefaultDim
	}
	e := &Engine{dim: dim}
	e.model.Store(&tfidfModel{id: fmt.Sprintf("local-tfidf-%d@unfitted", dim), idf: map[string]float64{}})
	return e
}

func (e *Engine) ModelID() string { return e.model.Load().id }

func (e *Engine) Dim() int { return e.dim }

// Initialize fits IDF weights from corpus: ln((N+1)/(df+1)) + 1.
func (e *Engine) Initialize(ctx context.Context, corpus []string) error {
	df := make(map[string]int)
	fp := xxhash.New()
	for i, doc := range corpus {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		_, _ = fp.WriteString(doc)
		_, _ = fp.Write([]byte{0})
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(doc) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	n := float64(len(corpus))
	idf := make(map[string]float64, len(df))
	for term, c := range df {
		idf[term] = math.Log((n+1)/(float64(c)+1)) + 1
	}
	e.model.Store(&tfidfModel{
		id:   fmt.Sprintf("local-tfidf-%d@%016x", e.dim, fp.Sum64()),
		docs: len(corpus),
		idf:  idf,
	})
	return nil
}

// Embed implements Provider. It never fails.
func (e *Engine) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vectorize(e.model.Load(), text), nil
}

// Embedding embeds text and tags it with the model that produced it,
// reading the fitted model exactly once.
func (e *Engine) Embedding(text string) Embedding {
	m := e.model.Load()
	return Embedding{Vector: e.vectorize(m, text), Dimension: e.dim, ModelID: m.id}
}

// Documents returns the size of the fitted corpus.
func (e *Engine) Documents() int { return e.model.Load().docs }

func (e *Engine) vectorize(m *tfidfModel, text string) []float32 {
	out := make([]float32, e.dim)
	toks := Tokenize(text)
	if len(toks) == 0 {
		return out
	}

	tf := make(map[string]int, len(toks))
	for _, t := range toks {
		tf[t]++
	}
	terms := make([]string, 0, len(tf))
	for t := range tf {
		terms = append(terms, t)
	}
	// Fixed summation order keeps output bit-identical across calls.
	sort.Strings(terms)

	acc := make([]float64, e.dim)
	total := float64(len(toks))
	for _, t := range terms {
		idf, ok := m.idf[t]
		if !ok {
			idf = 1
		}
		w := float64(tf[t]) / total * idf
		h := xxhash.Sum64String(t)
		if (h>>32)&1 == 1 {
			w = -w
		}
		acc[h%uint64(e.dim)] += w
	}

	var sum float64
	for _, x := range acc {
		sum += x * x
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range acc {
		out[i] = float32(x * inv)
	}
	return out
}
