package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/skillmatch/internal/cache"
	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/plugin"
)

type stubSource struct {
	id    string
	limit plugin.RateLimit
	calls atomic.Int32
	fn    func(ctx context.Context, q string) ([]domain.ExternalSuggestion, error)
}

func (s *stubSource) ID() string                  { return s.id }
func (s *stubSource) Kind() plugin.Kind           { return plugin.KindExternalSource }
func (s *stubSource) DisplayName() string         { return s.id }
func (s *stubSource) RateLimit() plugin.RateLimit { return s.limit }
func (s *stubSource) Query(ctx context.Context, q string) ([]domain.ExternalSuggestion, error) {
	s.calls.Add(1)
	return s.fn(ctx, q)
}

func returning(items ...domain.ExternalSuggestion) func(context.Context, string) ([]domain.ExternalSuggestion, error) {
	return func(context.Context, string) ([]domain.ExternalSuggestion, error) { return items, nil }
}

func newTestAggregator(t *testing.T, opts []Option, sources ...*stubSource) (*Aggregator, *plugin.Registry) {
	t.Helper()
	reg := plugin.New(plugin.WithLogger(zerolog.Nop()))
	for _, s := range sources {
		require.NoError(t, reg.Register(s))
	}
	c, err := cache.New[[]domain.ExternalSuggestion](100, cache.WithName("external"), cache.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(reg, c, opts...), reg
}

func TestRelevance(t *testing.T) {
	assert.InDelta(t, 0.85, Relevance("github", "GitHub", "GitHub API integration"), 1e-9)
	assert.InDelta(t, 0.4, Relevance("db", "db tool", ""), 1e-9, "short tokens only count as a phrase")
	assert.Zero(t, Relevance("kubernetes", "Slack", "Team chat"))

	// web hits the name (0.3) and description (0.15); scraping hits neither.
	assert.InDelta(t, 0.45/1.3, Relevance("web scraping", "web-scraper", "Scrape web pages"), 1e-9)

	for _, q := range []string{"a", "github api integration tools", "  "} {
		r := Relevance(q, "GitHub API integration tools", "GitHub API integration tools")
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
	}
}

const readme = `# MCP Servers

## Reference Servers

- [GitHub](https://github.com/modelcontextprotocol/servers/tree/main/src/github) - Repository management, file operations, and GitHub API integration
- [Filesystem](src/filesystem) – Secure file operations with configurable access controls
- a plain item without a link

## Community

* **[Slack](https://example.com/slack)** - bold links are not list links
* [Notion](https://example.com/notion)
`

func TestParseListLinks(t *testing.T) {
	items := parseListLinks([]byte(readme))
	require.Len(t, items, 3)

	assert.Equal(t, listLink{
		Section:     "Reference Servers",
		Name:        "GitHub",
		URL:         "https://github.com/modelcontextprotocol/servers/tree/main/src/github",
		Description: "Repository management, file operations, and GitHub API integration",
	}, items[0])
	assert.Equal(t, "Filesystem", items[1].Name)
	assert.Equal(t, "Secure file operations with configurable access controls", items[1].Description)
	assert.Equal(t, "Community", items[2].Section)
	assert.Equal(t, "Notion", items[2].Name)
	assert.Empty(t, items[2].Description)
}

func TestMarkdownParserFiltersByRelevance(t *testing.T) {
	parse := markdownParser(string(domain.SourceMCPRegistry), func(name string) string { return "npx -y " + name })
	out, err := parse([]byte(readme), "github")
	require.NoError(t, err)
	require.Len(t, out, 1)

	s := out[0]
	assert.Equal(t, domain.SourceMCPRegistry, s.Source)
	assert.Equal(t, "GitHub", s.Name)
	assert.Equal(t, "npx -y GitHub", s.InstallCommand)
	assert.InDelta(t, 0.85, s.Relevance, 1e-9)
}

func TestParseSmithery(t *testing.T) {
	body := `{"results":[
		{"name":"Brave Search","description":"web search","slug":"brave","score":0.9},
		{"name":"","description":"nameless"},
		"not an object"
	]}`
	out, err := parseSmithery([]byte(body), "search")
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "Brave Search", out[0].Name)
	assert.Equal(t, "https://smithery.ai/server/brave", out[0].URL)
	assert.Equal(t, "npx -y @smithery/brave", out[0].InstallCommand)
	assert.InDelta(t, 0.9, out[0].Relevance, 1e-9)
	assert.Equal(t, "Unknown", out[1].Name)
	assert.Empty(t, out[1].InstallCommand)

	_, err = parseSmithery([]byte("<html>"), "search")
	assert.Error(t, err)

	out, err = parseSmithery([]byte(`{"other":[]}`), "search")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = parseSmithery([]byte(`{"results":{"name":"x"}}`), "search")
	assert.Error(t, err)
}

func TestParseGitHubDropsObscureRepos(t *testing.T) {
	body := `{"items":[
		{"name":"mcp-postgres","description":"Postgres MCP server","html_url":"https://github.com/a/mcp-postgres","stargazers_count":120},
		{"name":"mcp-toy","description":"toy","html_url":"https://github.com/b/mcp-toy","stargazers_count":3}
	]}`
	out, err := parseGitHub([]byte(body), "postgres")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "mcp-postgres", out[0].Name)
	assert.Equal(t, domain.SourceGitHubTopics, out[0].Source)
	assert.Greater(t, out[0].Relevance, 0.0)
}

func TestParseGlamaFallsBackToServerPage(t *testing.T) {
	out, err := parseGlama([]byte(`{"servers":[{"name":"weather api","description":"forecasts"}]}`), "weather")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://glama.ai/mcp/servers/weather%20api", out[0].URL)
}

func TestQueryIsolatesFailingSource(t *testing.T) {
	good := &stubSource{id: "good", fn: returning(domain.ExternalSuggestion{Name: "Search Tool", Relevance: 0.8})}
	bad := &stubSource{id: "bad", fn: func(context.Context, string) ([]domain.ExternalSuggestion, error) {
		return nil, errors.New("HTTP 500")
	}}
	agg, _ := newTestAggregator(t, nil, good, bad)

	res, err := agg.Query(context.Background(), "search", Options{Sources: []string{"good", "bad"}})
	require.NoError(t, err)

	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "Search Tool", res.Suggestions[0].Name)
	assert.Equal(t, domain.SourceID("good"), res.Suggestions[0].Source)
	assert.Equal(t, "mcp", res.Suggestions[0].Type)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "bad", res.Warnings[0].Source)
	assert.Equal(t, WarnError, res.Warnings[0].Kind)
	assert.Contains(t, res.Warnings[0].Message, "HTTP 500")
}

func TestQueryIsolatesPanickingSource(t *testing.T) {
	good := &stubSource{id: "good", fn: returning(domain.ExternalSuggestion{Name: "Search Tool", Relevance: 0.8})}
	bad := &stubSource{id: "bad", fn: func(context.Context, string) ([]domain.ExternalSuggestion, error) {
		var seen map[string]bool
		seen["x"] = true
		return nil, nil
	}}
	agg, _ := newTestAggregator(t, nil, good, bad)

	res, err := agg.Query(context.Background(), "search", Options{Sources: []string{"good", "bad"}})
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "Search Tool", res.Suggestions[0].Name)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "bad", res.Warnings[0].Source)
	assert.Equal(t, WarnError, res.Warnings[0].Kind)
	assert.Contains(t, res.Warnings[0].Message, "panicked")
}

func TestQueryJoinedCallerSurvivesOtherCallerCancelling(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := &stubSource{id: "slow", fn: func(ctx context.Context, _ string) ([]domain.ExternalSuggestion, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return []domain.ExternalSuggestion{{Name: "Postgres Server", Relevance: 0.9}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	agg, _ := newTestAggregator(t, []Option{WithSourceTimeout(5 * time.Second)}, slow)
	opts := Options{Sources: []string{"slow"}}

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, _ = agg.Query(ctxA, "postgres", opts)
	}()
	<-started

	resB := make(chan Result, 1)
	go func() {
		res, err := agg.Query(context.Background(), "postgres", opts)
		assert.NoError(t, err)
		resB <- res
	}()
	time.Sleep(40 * time.Millisecond)
	cancelA()
	<-doneA

	close(release)
	res := <-resB
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "Postgres Server", res.Suggestions[0].Name)
	assert.Equal(t, int32(1), slow.calls.Load())
}

func TestQueryReportsTimeout(t *testing.T) {
	slow := &stubSource{id: "slow", fn: func(ctx context.Context, _ string) ([]domain.ExternalSuggestion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	agg, _ := newTestAggregator(t, []Option{WithSourceTimeout(30 * time.Millisecond)}, slow)

	res, err := agg.Query(context.Background(), "anything", Options{Sources: []string{"slow"}})
	require.NoError(t, err)
	assert.Empty(t, res.Suggestions)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnTimeout, res.Warnings[0].Kind)
}

func TestQueryFailFastRateLimit(t *testing.T) {
	src := &stubSource{
		id:    "tight",
		limit: plugin.RateLimit{PerMinute: 1, Policy: plugin.PolicyFailFast},
		fn:    returning(domain.ExternalSuggestion{Name: "x", Relevance: 1}),
	}
	agg, _ := newTestAggregator(t, nil, src)
	opts := Options{Sources: []string{"tight"}}

	res, err := agg.Query(context.Background(), "first", opts)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	start := time.Now()
	res, err = agg.Query(context.Background(), "second", opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "fail-fast must not block")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnRateLimited, res.Warnings[0].Kind)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestQueryCacheHitSkipsLimiter(t *testing.T) {
	src := &stubSource{
		id:    "tight",
		limit: plugin.RateLimit{PerMinute: 1, Policy: plugin.PolicyFailFast},
		fn:    returning(domain.ExternalSuggestion{Name: "Cached Thing", Relevance: 0.9}),
	}
	agg, reg := newTestAggregator(t, nil, src)

	var (
		mu     sync.Mutex
		cached []bool
	)
	reg.MustRegister(plugin.NewHook("record", func(_ context.Context, ev plugin.Event) error {
		mu.Lock()
		defer mu.Unlock()
		cached = append(cached, ev.Data.(plugin.ExternalEvent).Cached)
		return nil
	}, plugin.EventExternalQueried))

	for range 3 {
		res, err := agg.Query(context.Background(), "Cached  thing", Options{Sources: []string{"tight"}})
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)
		require.Len(t, res.Suggestions, 1)
	}
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, []bool{false, true, true}, cached)
}

func TestQueryUnknownSourceAndDedupe(t *testing.T) {
	src := &stubSource{id: "only", fn: returning(domain.ExternalSuggestion{Name: "y", Relevance: 1})}
	agg, _ := newTestAggregator(t, nil, src)

	res, err := agg.Query(context.Background(), "q", Options{Sources: []string{"only", "only", "missing"}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, Warning{Source: "missing", Kind: WarnUnknownSource, Message: "source is not registered"}, res.Warnings[0])
}

func TestQueryValidation(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	_, err := agg.Query(ctx, "   ", Options{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = agg.Query(ctx, "q", Options{MinRelevance: 1.5})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = agg.Query(ctx, "q", Options{MaxResults: MaxResultsLimit + 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMergeDeterministic(t *testing.T) {
	in := []domain.ExternalSuggestion{
		{Source: "b", Name: "Alpha", Relevance: 0.7, URL: "b/alpha"},
		{Source: "a", Name: "alpha", Relevance: 0.7, URL: "a/alpha"},
		{Source: "a", Name: "Beta", Relevance: 0.9},
		{Source: "c", Name: "Gamma", Relevance: 0.2},
		{Source: "c", Name: "Delta", Relevance: 0.5},
		{Source: "a", Name: "BETA", Relevance: 0.4},
	}
	out := Merge(in, 5, 0.35)
	require.Len(t, out, 3)
	assert.Equal(t, "Beta", out[0].Name)
	assert.Equal(t, "a/alpha", out[1].URL, "ties break on source")
	assert.Equal(t, "Delta", out[2].Name)

	assert.Len(t, Merge(in, 1, 0), 1)
	assert.Empty(t, Merge(nil, 5, 0))
}

func TestLimiterWaitPolicy(t *testing.T) {
	ctx := context.Background()
	l := newLimiter("wait", plugin.RateLimit{PerMinute: 600, Policy: plugin.PolicyWait, MaxWait: time.Second})
	for range 600 {
		require.NoError(t, l.acquire(ctx))
	}
	start := time.Now()
	require.NoError(t, l.acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	strict := newLimiter("strict", plugin.RateLimit{PerMinute: 600, Policy: plugin.PolicyWait, MaxWait: time.Millisecond})
	for range 600 {
		require.NoError(t, strict.acquire(ctx))
	}
	err := strict.acquire(ctx)
	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, domain.SourceID("strict"), rle.Source)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestBuiltinSourceOverHTTP(t *testing.T) {
	var gotQuery, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"name":"Postgres MCP","description":"query postgres databases","slug":"pg"}]}`))
	}))
	defer srv.Close()

	reg := plugin.New(plugin.WithLogger(zerolog.Nop()))
	ids, err := RegisterBuiltins(reg, BuiltinOptions{
		Fetcher: NewFetcher(time.Second, "skillmatch-test"),
		Overrides: map[string]SourceConfig{
			"smithery": {BaseURL: srv.URL + "/"},
			"glama":    {Disabled: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"awesome-mcp", "github-topics", "mcp-registry", "smithery"}, ids)

	c, err := cache.New[[]domain.ExternalSuggestion](10, cache.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	agg := New(reg, c, WithLogger(zerolog.Nop()))

	res, err := agg.Query(context.Background(), "postgres database", Options{Sources: []string{"smithery"}, MinRelevance: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "postgres database", gotQuery)
	assert.Equal(t, "application/json", gotAccept)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "npx -y @smithery/pg", res.Suggestions[0].InstallCommand)
}

func TestBuiltinSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	reg := plugin.New(plugin.WithLogger(zerolog.Nop()))
	_, err := RegisterBuiltins(reg, BuiltinOptions{Overrides: map[string]SourceConfig{"glama": {BaseURL: srv.URL}}})
	require.NoError(t, err)

	src, ok := reg.ExternalSource("glama")
	require.True(t, ok)
	hc, ok := src.(plugin.HealthChecker)
	require.True(t, ok)
	err = hc.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestRegisterBuiltinsRejectsBadPolicy(t *testing.T) {
	reg := plugin.New(plugin.WithLogger(zerolog.Nop()))
	_, err := RegisterBuiltins(reg, BuiltinOptions{Overrides: map[string]SourceConfig{"smithery": {Policy: "sometimes"}}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGitHubTokenHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	reg := plugin.New(plugin.WithLogger(zerolog.Nop()))
	_, err := RegisterBuiltins(reg, BuiltinOptions{
		Overrides:   map[string]SourceConfig{"github-topics": {BaseURL: srv.URL}},
		GitHubToken: func() string { return "tok" },
	})
	require.NoError(t, err)
	src, _ := reg.ExternalSource("github-topics")
	_, err = src.Query(context.Background(), "postgres")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
}
