package matcher

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/vectorstore"
)

const (
	MaxQueryRunes   = 2000
	MaxResultsLimit = 20
	maxLabelRunes   = 64
)

var (
	idPattern    = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	labelPattern = regexp.MustCompile(`^[A-Za-z0-9 &_-]+$`)
)

func validateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", domain.NewValidationError("query", "must not be empty")
	}
	if n := utf8.RuneCountInString(q); n > MaxQueryRunes {
		return "", domain.NewValidationError("query", "is %d characters, limit is %d", n, MaxQueryRunes)
	}
	return q, nil
}

// resolveMaxResults maps 0 to def and rejects anything outside 1..20.
func resolveMaxResults(n, def int) (int, error) {
	if n == 0 {
		n = def
	}
	if n < 1 || n > MaxResultsLimit {
		return 0, domain.NewValidationError("maxResults", "must be between 1 and %d, got %d", MaxResultsLimit, n)
	}
	return n, nil
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return domain.NewValidationError("id", "%q is not a kebab-case skill id", id)
	}
	return nil
}

// validateLabel accepts category and tag names. Dots and slashes are
// rejected so a label can never name a path.
func validateLabel(field, v string) error {
	if v == "" || utf8.RuneCountInString(v) > maxLabelRunes || !labelPattern.MatchString(v) {
		return domain.NewValidationError(field, "%q must be 1-%d characters of letters, digits, spaces, '&', '_' or '-'", v, maxLabelRunes)
	}
	return nil
}

func validateFilter(f vectorstore.Filter) error {
	for _, c := range f.Categories {
		if err := validateLabel("filter.categories", c); err != nil {
			return err
		}
	}
	for _, t := range f.Tags {
		if err := validateLabel("filter.tags", t); err != nil {
			return err
		}
	}
	for _, id := range f.IDs {
		if err := validateID(id); err != nil {
			return err
		}
	}
	return nil
}

// validateSources trims, deduplicates and checks sources against the
// registered ids. Order of first appearance is kept.
func validateSources(sources, known []string) ([]string, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(known))
	for _, id := range known {
		allowed[id] = true
	}
	seen := make(map[string]bool, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		if !allowed[s] {
			return nil, domain.NewValidationError("sources", "unknown source %q (known: %s)", s, strings.Join(known, ", "))
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
