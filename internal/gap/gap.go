// Package gap proposes a new skill when the catalog has nothing that fits a
// query. The proposal is scaffolding for a human author: a name, triggers,
// research pointers and success criteria, plus the closest existing skills.
package gap

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/plugin"
	"github.com/kamusis/skillmatch/internal/textutil"
)

const (
	maxTriggers       = 8
	maxTechTerms      = 5
	maxTopics         = 6
	maxMetrics        = 5
	maxNameRunes      = 40
	maxRelatedMatches = 3
	maxRelatedInCat   = 3
	maxRelated        = 5
)

var actionVerbs = []string{
	"create", "build", "generate", "analyze", "design", "implement",
	"optimize", "convert", "transform", "extract", "validate", "test",
	"automate", "integrate", "deploy", "monitor", "debug", "refactor",
}

var fillerWords = map[string]bool{
	"want": true, "need": true, "help": true, "please": true,
	"could": true, "would": true, "should": true,
}

var subjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:for|with|using)\s+(\w+(?:\s+\w+)?)`),
	regexp.MustCompile(`(?i)(\w+(?:\s+\w+)?)\s+(?:system|tool|generator|analyzer)\b`),
	regexp.MustCompile(`(?i)\b(?:create|build|make)\s+(\w+(?:\s+\w+)?)`),
}

var techPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(react|vue|angular|svelte)\b`),
	regexp.MustCompile(`\b(python|javascript|typescript|rust|go)\b`),
	regexp.MustCompile(`\b(api|rest|graphql|grpc)\b`),
	regexp.MustCompile(`\b(docker|kubernetes|aws|gcp|azure)\b`),
	regexp.MustCompile(`\b(tensorflow|pytorch|scikit|numpy)\b`),
}

var articles = []string{"a ", "an ", "the ", "my ", "some "}

// Analyzer builds gap proposals and announces them on the registry.
type Analyzer struct {
	reg    *plugin.Registry
	logger zerolog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(a *Analyzer) { a.logger = l } }

// New returns an Analyzer. reg may be nil, in which case no events are emitted.
func New(reg *plugin.Registry, opts ...Option) *Analyzer {
	a := &Analyzer{reg: reg, logger: log.Logger}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With().Str("component", "gap").Logger()
	return a
}

// Analyze proposes a skill for query. It never fails: a gap is presumed by
// the caller, so Identified is always true.
//
// RelatedSkills holds up to three matches (best first, whatever their
// score) followed by catalog entries in the detected category, without
// duplicates and capped at five. It is empty when either catalog or matches
// is empty.
func (a *Analyzer) Analyze(ctx context.Context, query string, catalog []*domain.Entry, matches []domain.MatchResult) domain.GapAnalysis {
	query = strings.TrimSpace(query)
	cat := lookup(detectCategory(query))
	name := skillName(query, cat)

	g := domain.GapAnalysis{
		Identified: true,
		Opportunity: domain.Opportunity{
			Name:              name,
			Description:       description(query, name, cat),
			Category:          cat.id,
			SuggestedTriggers: suggestTriggers(query),
		},
		Research: domain.Research{
			Topics:    researchTopics(query, cat),
			Resources: resources(cat),
		},
		RelatedSkills:   related(cat.id, catalog, matches),
		SuccessCriteria: successCriteria(query, name, cat),
	}

	a.logger.Debug().
		Str("query", query).
		Str("category", cat.id).
		Str("name", name).
		Int("related", len(g.RelatedSkills)).
		Msg("gap analyzed")
	if a.reg != nil {
		a.reg.Emit(ctx, plugin.EventGapDetected, plugin.GapEvent{Query: query, Name: name, Category: cat.id})
	}
	return g
}

func related(category string, catalog []*domain.Entry, matches []domain.MatchResult) []*domain.Entry {
	out := []*domain.Entry{}
	if len(catalog) == 0 || len(matches) == 0 {
		return out
	}
	seen := make(map[string]bool)
	add := func(e *domain.Entry) bool {
		if e == nil || seen[e.ID] || len(out) >= maxRelated {
			return false
		}
		seen[e.ID] = true
		out = append(out, e)
		return true
	}

	n := 0
	for _, m := range matches {
		if n == maxRelatedMatches {
			break
		}
		if add(m.Entry) {
			n++
		}
	}
	n = 0
	for _, e := range catalog {
		if n == maxRelatedInCat {
			break
		}
		if e != nil && e.Category == category && add(e) {
			n++
		}
	}
	return out
}

// suggestTriggers returns verb phrases starting at each action verb, then
// the longer content words of the query. The result is non-empty for any
// non-blank query.
func suggestTriggers(query string) []string {
	words := textutil.Words(query)
	var out []string

	for _, verb := range actionVerbs {
		for i, w := range words {
			if !strings.HasPrefix(w, verb) {
				continue
			}
			phrase := strings.Join(words[i:min(i+4, len(words))], " ")
			if utf8.RuneCountInString(phrase) > utf8.RuneCountInString(verb)+3 {
				out = append(out, phrase)
			}
			break
		}
	}

	terms := 0
	for _, w := range words {
		if terms == maxTechTerms {
			break
		}
		if utf8.RuneCountInString(w) > 4 && !fillerWords[w] {
			out = append(out, w)
			terms++
		}
	}

	out = dedupe(out, maxTriggers)
	if len(out) == 0 && query != "" {
		if len(words) > 0 {
			out = []string{strings.Join(words[:min(4, len(words))], " ")}
		} else {
			out = []string{textutil.Normalize(query)}
		}
	}
	return out
}

func skillName(query string, cat category) string {
	subject := ""
	for _, re := range subjectPatterns {
		if m := re.FindStringSubmatch(query); m != nil {
			subject = stripArticle(strings.ToLower(m[1]))
			break
		}
	}
	if subject == "" {
		var picked []string
		for _, w := range textutil.Words(query) {
			if utf8.RuneCountInString(w) > 4 && !fillerWords[w] {
				picked = append(picked, w)
				if len(picked) == 2 {
					break
				}
			}
		}
		subject = strings.Join(picked, " ")
	}
	if subject == "" {
		return "Custom Skill"
	}

	suffix := cat.suffix
	if suffix == "" {
		suffix = "Expert"
	}
	name := textutil.TitleCase(subject + " " + suffix)
	return strings.TrimSpace(textutil.Truncate(name, maxNameRunes))
}

func stripArticle(s string) string {
	for _, a := range articles {
		if rest, ok := strings.CutPrefix(s, a); ok {
			return strings.TrimSpace(rest)
		}
	}
	return s
}

func description(query, name string, cat category) string {
	focus := cat.focus
	if focus == "" {
		focus = "specialized in this domain"
	}
	lower := strings.ToLower(query)
	verb := "handling"
	switch {
	case strings.Contains(lower, "create"):
		verb = "creating"
	case strings.Contains(lower, "analyze"):
		verb = "analyzing"
	case strings.Contains(lower, "optimize"):
		verb = "optimizing"
	}
	return fmt.Sprintf("%s skill %s. Designed for %s tasks like: %q", name, focus, verb, ellipsize(query, 100))
}

func researchTopics(query string, cat category) []string {
	topics := append([]string(nil), cat.topics...)
	lower := strings.ToLower(query)
	for _, re := range techPatterns {
		if m := re.FindString(lower); m != "" {
			topics = append(topics, m+" ecosystem and best practices")
		}
	}
	topics = append(topics,
		"Existing tools and libraries in this space",
		"Common pitfalls and anti-patterns",
		"Industry standards and benchmarks",
	)
	return dedupe(topics, maxTopics)
}

func resources(cat category) []string {
	if len(cat.resources) > 0 {
		return append([]string(nil), cat.resources...)
	}
	return []string{
		"Domain-specific documentation",
		"Industry best practices",
		"Academic research papers",
	}
}

func successCriteria(query, name string, cat category) domain.SuccessCriteria {
	metrics := append([]string(nil), cat.metrics...)
	metrics = append(metrics,
		"User task completion rate",
		"Error rate and edge case handling",
		"Response time and efficiency",
	)
	return domain.SuccessCriteria{
		Metrics: dedupe(metrics, maxMetrics),
		TestCases: []string{
			fmt.Sprintf("Given the original prompt %q, skill produces expected output", ellipsize(query, 50)),
			"Handles edge cases gracefully without errors",
			"Produces consistent results across multiple invocations",
			"Correctly identifies when task is outside skill scope (anti-pattern test)",
			"Integrates properly with related skills in the ecosystem",
		},
		Validation: fmt.Sprintf("The %s skill is considered successful when it can reliably handle the types of requests that led to its creation, demonstrates clear value over manual approaches, and has measurable positive impact on user workflows.", name),
	}
}

func ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return textutil.Truncate(s, n) + "..."
}

func dedupe(in []string, limit int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, min(len(in), limit))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
