// Package catalog loads the skill entries the matcher ranks.
package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/textutil"
)

// Loader supplies a validated set of entries with unique ids.
type Loader interface {
	Load(ctx context.Context) ([]*domain.Entry, error)
}

// StaticLoader serves a fixed set of entries.
type StaticLoader []*domain.Entry

// Load validates the entries and returns copies sorted by id.
func (s StaticLoader) Load(context.Context) ([]*domain.Entry, error) {
	out := make([]*domain.Entry, 0, len(s))
	for _, e := range s {
		out = append(out, e.Clone())
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	SortByID(out)
	return out, nil
}

// Validate checks that every entry has a kebab-case id and that ids are unique.
func Validate(entries []*domain.Entry) error {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e == nil {
			return domain.NewValidationError("catalog", "entry %d is nil", i)
		}
		if e.ID == "" || textutil.Slug(e.ID) != e.ID {
			return domain.NewValidationError("catalog", "entry id %q is not kebab-case", e.ID)
		}
		if seen[e.ID] {
			return domain.NewValidationError("catalog", "duplicate entry id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// SortByID orders entries by id.
func SortByID(entries []*domain.Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}

// Grep returns the entries whose id, name, description, category, triggers
// or tags contain every whitespace separated token of query, ignoring case.
// A blank query matches nothing.
func Grep(entries []*domain.Entry, query string, limit int) []*domain.Entry {
	tokens := strings.Fields(textutil.Fold(query))
	if len(tokens) == 0 {
		return []*domain.Entry{}
	}

	out := []*domain.Entry{}
	for _, e := range entries {
		blob := textutil.Fold(searchBlob(e))
		ok := true
		for _, tok := range tokens {
			if !strings.Contains(blob, tok) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, e)
		}
	}
	SortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func searchBlob(e *domain.Entry) string {
	parts := []string{e.ID, e.Name, e.Description, e.Category}
	parts = append(parts, e.Activation.Triggers...)
	for _, t := range e.Tags {
		parts = append(parts, t.ID, t.Name)
	}
	return strings.Join(parts, "\n")
}

// ByCategory returns the entries whose category matches category by case
// folding or by slug. An empty category returns all entries.
func ByCategory(entries []*domain.Entry, category string) []*domain.Entry {
	category = strings.TrimSpace(category)
	if category == "" {
		return append([]*domain.Entry(nil), entries...)
	}
	fold, slug := textutil.Fold(category), textutil.Slug(category)
	out := []*domain.Entry{}
	for _, e := range entries {
		if textutil.Fold(e.Category) == fold || (slug != "" && textutil.Slug(e.Category) == slug) {
			out = append(out, e)
		}
	}
	return out
}
