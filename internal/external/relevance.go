package external

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kamusis/skillmatch/internal/textutil"
)

const (
	nameHitWeight   = 0.3
	descHitWeight   = 0.15
	phraseBonus     = 0.4
	minTokenRunes   = 3
	maxDescription  = 200
	markdownMinimum = 0.3
)

// Relevance scores how well a suggestion's name and description cover query.
// Each query token found in the name adds 0.3 and in the description 0.15;
// the whole query appearing in either adds 0.4. The sum is normalized by the
// best possible score for the query length and capped at 1.
func Relevance(query, name, description string) float64 {
	q := textutil.Normalize(query)
	n := textutil.Normalize(name)
	d := textutil.Normalize(description)

	var tokens []string
	for _, t := range strings.Fields(q) {
		if utf8.RuneCountInString(t) >= minTokenRunes {
			tokens = append(tokens, t)
		}
	}

	var score float64
	for _, t := range tokens {
		if strings.Contains(n, t) {
			score += nameHitWeight
		}
		if strings.Contains(d, t) {
			score += descHitWeight
		}
	}
	if q != "" && (strings.Contains(d, q) || strings.Contains(n, q)) {
		score += phraseBonus
	}

	maxPossible := float64(len(tokens))*(nameHitWeight+descHitWeight) + phraseBonus
	return math.Min(score/math.Max(maxPossible, 1), 1)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
