package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"build", "a", "ci", "cd", "pipeline", "multi-step"},
		Words("Build a CI/CD pipeline (multi-step)!"))
	assert.Equal(t, []string{"strasse"}, Words("Straße"))
	assert.Empty(t, Words("  --  "))
}

func TestFoldIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, Fold("website"), Fold("WEBSITE"))
	assert.Equal(t, "a b", Normalize("  A \t B "))
}

func TestTruncateAndTitle(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "Landing Page Designer", TitleCase("landing page designer"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "design-ux", Slug("Design & UX"))
	assert.Equal(t, "ai-machine-learning", Slug("  AI & Machine Learning "))
	assert.Equal(t, "", Slug("&&"))
}
