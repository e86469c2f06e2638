package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/kamusis/skillmatch/internal/domain"
)

// CanonicalText returns the text an entry is embedded from.
func CanonicalText(e *domain.Entry) string {
	parts := []string{
		"name: " + strings.TrimSpace(e.Name),
		"description: " + strings.TrimSpace(e.Description),
	}
	if e.Category != "" {
		parts = append(parts, "category: "+strings.TrimSpace(e.Category))
	}
	if len(e.Activation.Triggers) > 0 {
		parts = append(parts, "triggers: "+strings.Join(e.Activation.Triggers, ", "))
	}
	if len(e.Tags) > 0 {
		names := make([]string, 0, len(e.Tags))
		for _, t := range e.Tags {
			names = append(names, t.Name)
		}
		parts = append(parts, "tags: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "\n")
}

// TextHash returns a sha256 hash (hex) of text.
func TextHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// CorpusHash summarizes a whole catalog from its per-entry text hashes. It
// does not depend on map iteration order.
func CorpusHash(hashes map[string]string) string {
	ids := make([]string, 0, len(hashes))
	for id := range hashes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(hashes[id]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
