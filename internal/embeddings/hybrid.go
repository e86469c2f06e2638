package embeddings

import "math"

// Weights controls the hybrid blend. Only the ratio matters.
type Weights struct {
	Semantic float64 `mapstructure:"semantic" yaml:"semantic"`
	Keyword  float64 `mapstructure:"keyword" yaml:"keyword"`
}

// DefaultWeights favors the semantic signal.
var DefaultWeights = Weights{Semantic: 0.7, Keyword: 0.3}

func (w Weights) valid() bool {
	for _, x := range []float64{w.Semantic, w.Keyword} {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return w.Semantic+w.Keyword > 0
}

// HybridScore blends semantic and keyword scores as a convex combination.
// The result always lies between the two inputs and is monotonic in each.
// Invalid weights fall back to DefaultWeights.
func HybridScore(semantic, keyword float64, weights ...Weights) float64 {
	w := DefaultWeights
	if len(weights) > 0 && weights[0].valid() {
		w = weights[0]
	}
	ws := w.Semantic / (w.Semantic + w.Keyword)
	h := ws*semantic + (1-ws)*keyword

	lo, hi := math.Min(semantic, keyword), math.Max(semantic, keyword)
	return math.Max(lo, math.Min(hi, h))
}
