// Package domain holds the types shared by every skillmatch component.
package domain

import "strings"

// Tag labels a catalog entry.
type Tag struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Activation lists the phrases that should and should not route to an entry.
type Activation struct {
	Triggers []string `json:"triggers"`
	NotFor   []string `json:"notFor"`
}

// Entry is one matchable skill descriptor.
//
// Entries are immutable once loaded. Components hold pointers into the
// current catalog snapshot and never modify them; transformations produce
// a new Entry.
type Entry struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Activation  Activation `json:"activation"`
	Tags        []Tag      `json:"tags"`
	Path        string     `json:"path,omitempty"`
}

// PrimaryTag returns the first tag id, or "" when the entry has no tags.
func (e *Entry) PrimaryTag() string {
	if e == nil || len(e.Tags) == 0 {
		return ""
	}
	return e.Tags[0].ID
}

// HasTag reports whether the entry carries a tag with the given id (case-insensitive).
func (e *Entry) HasTag(id string) bool {
	for _, t := range e.Tags {
		if strings.EqualFold(t.ID, id) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Activation.Triggers = append([]string(nil), e.Activation.Triggers...)
	out.Activation.NotFor = append([]string(nil), e.Activation.NotFor...)
	out.Tags = append([]Tag(nil), e.Tags...)
	return &out
}

// MatchType describes which signal produced a match.
type MatchType string

const (
	MatchSemantic MatchType = "semantic"
	MatchKeyword  MatchType = "keyword"
	MatchHybrid   MatchType = "hybrid"
)

// MatchResult is one ranked catalog entry for a query.
type MatchResult struct {
	Entry         *Entry    `json:"skill"`
	Score         float64   `json:"score"`
	MatchType     MatchType `json:"matchType"`
	Reasoning     string    `json:"reasoning"`
	SemanticScore float64   `json:"semanticScore"`
	KeywordScore  float64   `json:"keywordScore"`
	Hints         []string  `json:"hints,omitempty"`
}

// SourceID names an external registry.
type SourceID string

const (
	SourceMCPRegistry  SourceID = "mcp-registry"
	SourceAwesomeMCP   SourceID = "awesome-mcp"
	SourceSmithery     SourceID = "smithery"
	SourceGlama        SourceID = "glama"
	SourceGitHubTopics SourceID = "github-topics"
)

// ExternalSuggestion is a candidate skill found outside the local catalog.
type ExternalSuggestion struct {
	Source         SourceID `json:"source"`
	Type           string   `json:"type,omitempty"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Relevance      float64  `json:"relevance"`
	URL            string   `json:"url"`
	InstallCommand string   `json:"installCommand,omitempty"`
}

// Opportunity describes the skill a gap analysis proposes.
type Opportunity struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Category          string   `json:"category"`
	SuggestedTriggers []string `json:"suggestedTriggers"`
}

// Research lists what to study before building the proposed skill.
type Research struct {
	Topics    []string `json:"topics"`
	Resources []string `json:"resources"`
}

// SuccessCriteria describes how to judge the proposed skill.
type SuccessCriteria struct {
	Metrics    []string `json:"metrics"`
	TestCases  []string `json:"testCases"`
	Validation string   `json:"validation"`
}

// GapAnalysis is a proposal for a skill missing from the catalog.
// Identified is always true; a value of this type only exists when a gap
// is being reported.
type GapAnalysis struct {
	Identified      bool            `json:"identified"`
	Opportunity     Opportunity     `json:"opportunity"`
	Research        Research        `json:"research"`
	RelatedSkills   []*Entry        `json:"relatedSkills"`
	SuccessCriteria SuccessCriteria `json:"successCriteria"`
}
