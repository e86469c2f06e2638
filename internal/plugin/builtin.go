package plugin

import (
	"context"
	"strings"

	"github.com/kamusis/skillmatch/internal/domain"
)

// Normalization fills missing entry fields and trims text before indexing.
type Normalization struct{}

func (Normalization) ID() string    { return "normalize" }
func (Normalization) Kind() Kind    { return KindPreprocessor }
func (Normalization) Priority() int { return 0 }

func (Normalization) Process(_ context.Context, e *domain.Entry) (*domain.Entry, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		e.Name = e.ID
	}
	e.Description = strings.TrimSpace(e.Description)
	if e.Description == "" {
		e.Description = "Skill: " + e.Name
	}
	e.Category = strings.TrimSpace(e.Category)
	e.Activation.Triggers = cleanList(e.Activation.Triggers)
	e.Activation.NotFor = cleanList(e.Activation.NotFor)
	if e.Tags == nil {
		e.Tags = []domain.Tag{}
	}
	return e, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

// UsageHints tells the caller how to invoke each matched skill.
type UsageHints struct{}

func (UsageHints) ID() string    { return "usage-hints" }
func (UsageHints) Kind() Kind    { return KindEnricher }
func (UsageHints) Priority() int { return 100 }

func (UsageHints) Enrich(_ context.Context, results []domain.MatchResult, _ string) ([]domain.MatchResult, error) {
	out := make([]domain.MatchResult, len(results))
	for i, r := range results {
		r.Hints = append(append([]string(nil), r.Hints...), "Invoke with: /skill "+r.Entry.ID)
		out[i] = r
	}
	return out, nil
}
