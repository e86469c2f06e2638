package gap

import (
	"context"
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/plugin"
)

var catalog = []*domain.Entry{
	{
		ID:          "web-design-expert",
		Name:        "Web Design Expert",
		Description: "Expert web designer specializing in modern web design principles and brand identity.",
		Category:    "visual-design-ui",
		Activation:  domain.Activation{Triggers: []string{"web design", "website", "landing page", "UI/UX"}},
	},
	{
		ID:          "drone-cv-expert",
		Name:        "Drone CV Expert",
		Description: "Expert in drone systems, computer vision, and autonomous navigation.",
		Category:    "autonomous-systems-robotics",
		Activation:  domain.Activation{Triggers: []string{"drone", "UAV", "computer vision", "SLAM"}},
	},
	{
		ID:          "jungian-psychologist",
		Name:        "Jungian Psychologist",
		Description: "Expert in Jungian analytical psychology and archetypal patterns.",
		Category:    "coaching-personal-development",
	},
}

func weak(e *domain.Entry, score float64) domain.MatchResult {
	return domain.MatchResult{Entry: e, Score: score, MatchType: domain.MatchSemantic}
}

func newAnalyzer() *Analyzer {
	return New(nil, WithLogger(zerolog.Nop()))
}

func TestDetectCategory(t *testing.T) {
	cases := map[string]string{
		"kubernetes docker deploy":            "devops-site-reliability",
		"analyze the competitive landscape":   "research-strategy",
		"spatial audio mixer":                 "audio-sound-design",
		"autonomous drone navigation":         "autonomous-systems-robotics",
		"I want a landing page designer":      "visual-design-ui",
		"help me build a blockchain contract": DefaultCategory,
		"":                                    DefaultCategory,
	}
	for q, want := range cases {
		assert.Equal(t, want, detectCategory(q), q)
	}
	assert.Len(t, Categories(), 12)
}

func TestAnalyzeAlwaysIdentified(t *testing.T) {
	a := newAnalyzer()
	ctx := context.Background()
	for _, q := range []string{
		"Help me build a blockchain smart contract",
		"Help me create 3D game assets in Blender",
		"Help me design a website",
		"hi",
	} {
		g := a.Analyze(ctx, q, catalog, []domain.MatchResult{weak(catalog[0], 0.85)})
		assert.True(t, g.Identified, q)
		assert.NotEmpty(t, g.Opportunity.Name, q)
		assert.NotEmpty(t, g.Opportunity.Description, q)
		assert.NotEmpty(t, g.Opportunity.SuggestedTriggers, q)
		assert.NotEmpty(t, g.Research.Topics, q)
		assert.NotEmpty(t, g.Research.Resources, q)
		assert.Len(t, g.SuccessCriteria.TestCases, 5, q)
		assert.Contains(t, g.SuccessCriteria.Validation, g.Opportunity.Name, q)
	}
}

func TestAnalyzeDesignQuery(t *testing.T) {
	g := newAnalyzer().Analyze(context.Background(), "Help me design a website", catalog, nil)

	assert.Equal(t, "visual-design-ui", g.Opportunity.Category)
	assert.Equal(t, "Design Website Designer", g.Opportunity.Name)
	assert.Equal(t, []string{"design a website", "design", "website"}, g.Opportunity.SuggestedTriggers)
	assert.Contains(t, g.Research.Topics, "Typography best practices")
	assert.Equal(t, "Material Design Guidelines", g.Research.Resources[0])
	assert.Contains(t, g.Opportunity.Description, "specialized in visual design")
}

func TestSkillNames(t *testing.T) {
	cases := map[string]string{
		"Help me build a blockchain smart contract": "Blockchain Analyst",
		"autonomous drone navigation":               "Autonomous Drone Systems Expert",
		"resume review tool":                        "Resume Review Coach",
		"??":                                        "Custom Skill",
	}
	for q, want := range cases {
		assert.Equal(t, want, skillName(q, lookup(detectCategory(q))), q)
	}

	long := skillName("Help me build supercalifragilisticexpialidocious extraordinarily", lookup(DefaultCategory))
	assert.LessOrEqual(t, utf8.RuneCountInString(long), maxNameRunes)
}

func TestSuggestedTriggersNeverEmpty(t *testing.T) {
	assert.Equal(t, []string{"hi"}, suggestTriggers("hi"))
	assert.Equal(t, []string{"?!"}, suggestTriggers("?!"))
	assert.Empty(t, suggestTriggers(""))

	got := suggestTriggers("create validate deploy monitor debug refactor optimize extract transform convert integrate pipelines")
	assert.LessOrEqual(t, len(got), maxTriggers)
}

func TestRelatedSkills(t *testing.T) {
	a := newAnalyzer()
	ctx := context.Background()

	g := a.Analyze(ctx, "drone delivery routing", catalog, []domain.MatchResult{weak(catalog[0], 0.05)})
	ids := make([]string, 0, len(g.RelatedSkills))
	for _, e := range g.RelatedSkills {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"web-design-expert", "drone-cv-expert"}, ids, "low-scoring matches come first, then the category")

	g = a.Analyze(ctx, "mobile app UI design", catalog, []domain.MatchResult{weak(catalog[0], 0.3)})
	require.Len(t, g.RelatedSkills, 1, "duplicates are dropped")
	assert.Equal(t, "web-design-expert", g.RelatedSkills[0].ID)
}

func TestEmptyCatalog(t *testing.T) {
	g := newAnalyzer().Analyze(context.Background(), "quantum computing algorithm", nil, nil)
	assert.True(t, g.Identified)
	require.NotNil(t, g.RelatedSkills)
	assert.Empty(t, g.RelatedSkills)

	b, err := json.Marshal(g)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"relatedSkills":[]`)
}

func TestLimits(t *testing.T) {
	g := newAnalyzer().Analyze(context.Background(),
		"build a react and python api with docker and tensorflow for image classification",
		catalog, nil)
	assert.LessOrEqual(t, len(g.Research.Topics), maxTopics)
	assert.LessOrEqual(t, len(g.SuccessCriteria.Metrics), maxMetrics)
	assert.LessOrEqual(t, len(g.Opportunity.SuggestedTriggers), maxTriggers)
	assert.Equal(t, "computer-vision-image-ai", g.Opportunity.Category)

	topics := researchTopics("build a react app in python", lookup(DefaultCategory))
	assert.Equal(t, []string{
		"react ecosystem and best practices",
		"python ecosystem and best practices",
		"Existing tools and libraries in this space",
		"Common pitfalls and anti-patterns",
		"Industry standards and benchmarks",
	}, topics)
}

func TestAnalyzeEmitsEvent(t *testing.T) {
	reg := plugin.New(plugin.WithLogger(zerolog.Nop()))
	var got []plugin.GapEvent
	reg.MustRegister(plugin.NewHook("capture", func(_ context.Context, ev plugin.Event) error {
		got = append(got, ev.Data.(plugin.GapEvent))
		return nil
	}, plugin.EventGapDetected))

	a := New(reg, WithLogger(zerolog.Nop()))
	g := a.Analyze(context.Background(), "spatial audio mixer", catalog, nil)

	require.Len(t, got, 1)
	assert.Equal(t, plugin.GapEvent{Query: "spatial audio mixer", Name: g.Opportunity.Name, Category: "audio-sound-design"}, got[0])
}
