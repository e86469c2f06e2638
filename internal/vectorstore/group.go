package vectorstore

import (
	"sort"
	"strings"

	"github.com/kamusis/skillmatch/internal/domain"
)

// GroupField names the entry attribute used by GroupBy.
type GroupField string

const (
	GroupByCategory   GroupField = "category"
	GroupByPrimaryTag GroupField = "primary-tag"
)

// Ungrouped is the key of the group collecting entries that lack the
// grouping field. Categories and tags are trimmed and never empty, so no
// entry can name it. UngroupedLabel is its display name.
const (
	Ungrouped      = ""
	UngroupedLabel = "(ungrouped)"
)

// ParseGroupField accepts "category", "primary-tag" or "tag".
func ParseGroupField(s string) (GroupField, error) {
	switch s {
	case string(GroupByCategory):
		return GroupByCategory, nil
	case string(GroupByPrimaryTag), "tag":
		return GroupByPrimaryTag, nil
	default:
		return "", domain.NewValidationError("groupBy", "unknown field %q (want category or primary-tag)", s)
	}
}

// GroupEntries partitions entries by field. Each entry lands in exactly one
// group; entries within a group are sorted by id.
func GroupEntries(entries []*domain.Entry, field GroupField) map[string][]*domain.Entry {
	out := make(map[string][]*domain.Entry)
	for _, e := range entries {
		var key string
		switch field {
		case GroupByCategory:
			key = e.Category
		case GroupByPrimaryTag:
			key = e.PrimaryTag()
		}
		if strings.TrimSpace(key) == "" {
			key = Ungrouped
		}
		out[key] = append(out[key], e)
	}
	for _, g := range out {
		sort.Slice(g, func(i, j int) bool { return g[i].ID < g[j].ID })
	}
	return out
}

// GroupKeys returns the keys of groups sorted, with Ungrouped last.
func GroupKeys(groups map[string][]*domain.Entry) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == Ungrouped || keys[j] == Ungrouped {
			return keys[j] == Ungrouped && keys[i] != Ungrouped
		}
		return keys[i] < keys[j]
	})
	return keys
}

// GroupBy partitions the current snapshot.
func (s *Store) GroupBy(field GroupField) (map[string][]*domain.Entry, error) {
	switch field {
	case GroupByCategory, GroupByPrimaryTag:
	default:
		return nil, domain.NewValidationError("groupBy", "unknown field %q", field)
	}
	if !s.Loaded() {
		return nil, domain.ErrIndexNotLoaded
	}
	return GroupEntries(s.Entries(), field), nil
}
