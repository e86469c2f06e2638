package embeddings

import (
	"math"

	"github.com/kamusis/skillmatch/internal/domain"
)

// Cosine computes cosine similarity between two vectors of equal length.
// A zero-magnitude operand yields exactly 0. Non-finite components are rejected.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &domain.DimensionMismatchError{Want: len(a), Got: len(b)}
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			return 0, domain.NewValidationError("vector", "non-finite component at index %d", i)
		}
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	s := dot / math.Sqrt(na*nb)
	return math.Max(-1, math.Min(1, s)), nil
}

// Similarity is Cosine for tagged embeddings; both must come from the same model.
func Similarity(a, b Embedding) (float64, error) {
	if a.ModelID != b.ModelID || len(a.Vector) != len(b.Vector) {
		return 0, &domain.DimensionMismatchError{
			Want: len(a.Vector), Got: len(b.Vector),
			WantModel: a.ModelID, GotModel: b.ModelID,
		}
	}
	return Cosine(a.Vector, b.Vector)
}

// NormalizeL2 returns a new vector normalized to unit L2 norm.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	n := math.Sqrt(sum)
	if n == 0 {
		copy(out, v)
		return out
	}
	inv := 1.0 / n
	for i := range v {
		out[i] = float32(float64(v[i]) * inv)
	}
	return out
}

// CheckFinite rejects vectors containing NaN or Inf.
func CheckFinite(v []float32) error {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return domain.NewValidationError("vector", "non-finite component at index %d", i)
		}
	}
	return nil
}
