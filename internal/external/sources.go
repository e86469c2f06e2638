package external

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/plugin"
	"github.com/kamusis/skillmatch/internal/textutil"
)

// SourceConfig overrides a built-in source's defaults. Zero fields keep the
// default.
type SourceConfig struct {
	BaseURL   string
	PerMinute int
	Policy    string
	MaxWait   time.Duration
	Timeout   time.Duration
	CacheTTL  time.Duration
	Disabled  bool
}

// httpSource is a built-in source backed by one HTTP GET per query.
type httpSource struct {
	id       string
	name     string
	base     string
	limit    plugin.RateLimit
	fetch    *Fetcher
	headers  func() map[string]string
	endpoint func(base, query string) string
	parse    func(body []byte, query string) ([]domain.ExternalSuggestion, error)
}

func (s *httpSource) ID() string                  { return s.id }
func (s *httpSource) Kind() plugin.Kind           { return plugin.KindExternalSource }
func (s *httpSource) DisplayName() string         { return s.name }
func (s *httpSource) RateLimit() plugin.RateLimit { return s.limit }

func (s *httpSource) Query(ctx context.Context, query string) ([]domain.ExternalSuggestion, error) {
	var headers map[string]string
	if s.headers != nil {
		headers = s.headers()
	}
	body, err := s.fetch.Get(ctx, s.endpoint(s.base, query), headers)
	if err != nil {
		return nil, err
	}
	out, err := s.parse(body, query)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", s.id, err)
	}
	return out, nil
}

// HealthCheck issues a representative query against the source.
func (s *httpSource) HealthCheck(ctx context.Context) error {
	_, err := s.Query(ctx, "mcp")
	return err
}

type builtin struct {
	id       string
	name     string
	base     string
	limit    plugin.RateLimit
	headers  func() map[string]string
	endpoint func(base, query string) string
	parse    func(body []byte, query string) ([]domain.ExternalSuggestion, error)
}

func builtins(githubToken func() string) []builtin {
	readme := func(base, _ string) string { return base + "/README.md" }
	return []builtin{
		{
			id:       string(domain.SourceMCPRegistry),
			name:     "Official MCP Registry",
			base:     "https://raw.githubusercontent.com/modelcontextprotocol/servers/main",
			limit:    plugin.RateLimit{PerMinute: 10, Policy: plugin.PolicyWait, MaxWait: 10 * time.Second, CacheTTL: time.Hour},
			endpoint: readme,
			parse:    markdownParser(string(domain.SourceMCPRegistry), func(name string) string { return "npx -y " + name }),
		},
		{
			id:       string(domain.SourceAwesomeMCP),
			name:     "Awesome MCP",
			base:     "https://raw.githubusercontent.com/punkpeye/awesome-mcp-servers/main",
			limit:    plugin.RateLimit{PerMinute: 10, Policy: plugin.PolicyWait, MaxWait: 10 * time.Second, CacheTTL: time.Hour},
			endpoint: readme,
			parse:    markdownParser(string(domain.SourceAwesomeMCP), nil),
		},
		{
			id:    string(domain.SourceSmithery),
			name:  "Smithery.ai",
			base:  "https://smithery.ai",
			limit: plugin.RateLimit{PerMinute: 30, Policy: plugin.PolicyFailFast},
			endpoint: func(base, q string) string {
				return base + "/api/search?q=" + url.QueryEscape(q)
			},
			headers: jsonHeaders,
			parse:   parseSmithery,
		},
		{
			id:    string(domain.SourceGlama),
			name:  "Glama.ai",
			base:  "https://glama.ai",
			limit: plugin.RateLimit{PerMinute: 30, Policy: plugin.PolicyFailFast},
			endpoint: func(base, q string) string {
				return base + "/api/mcp/search?query=" + url.QueryEscape(q)
			},
			headers: jsonHeaders,
			parse:   parseGlama,
		},
		{
			id:    string(domain.SourceGitHubTopics),
			name:  "GitHub Topics",
			base:  "https://api.github.com",
			limit: plugin.RateLimit{PerMinute: 10, Policy: plugin.PolicyFailFast},
			endpoint: func(base, q string) string {
				return base + "/search/repositories?q=" + url.QueryEscape(q+" topic:mcp") + "&sort=stars&per_page=20"
			},
			headers: func() map[string]string {
				h := map[string]string{"Accept": "application/vnd.github.v3+json"}
				if githubToken != nil {
					if tok := githubToken(); tok != "" {
						h["Authorization"] = "Bearer " + tok
					}
				}
				return h
			},
			parse: parseGitHub,
		},
	}
}

func jsonHeaders() map[string]string {
	return map[string]string{"Accept": "application/json"}
}

// BuiltinOptions configures RegisterBuiltins.
type BuiltinOptions struct {
	Fetcher     *Fetcher
	Overrides   map[string]SourceConfig
	GitHubToken func() string
}

// RegisterBuiltins registers the built-in sources with reg and returns
// their ids.
func RegisterBuiltins(reg *plugin.Registry, opts BuiltinOptions) ([]string, error) {
	f := opts.Fetcher
	if f == nil {
		f = NewFetcher(DefaultSourceTimeout, "skillmatch")
	}
	var ids []string
	for _, b := range builtins(opts.GitHubToken) {
		ov := opts.Overrides[b.id]
		if ov.Disabled {
			continue
		}
		src := &httpSource{
			id: b.id, name: b.name, base: b.base, limit: b.limit,
			fetch: f, headers: b.headers, endpoint: b.endpoint, parse: b.parse,
		}
		if err := applyOverride(src, ov); err != nil {
			return nil, err
		}
		if err := reg.Register(src); err != nil {
			return nil, err
		}
		ids = append(ids, b.id)
	}
	sort.Strings(ids)
	return ids, nil
}

func applyOverride(s *httpSource, ov SourceConfig) error {
	if ov.BaseURL != "" {
		s.base = strings.TrimRight(ov.BaseURL, "/")
	}
	if ov.PerMinute > 0 {
		s.limit.PerMinute = ov.PerMinute
	}
	switch plugin.RatePolicy(ov.Policy) {
	case "":
	case plugin.PolicyWait, plugin.PolicyFailFast:
		s.limit.Policy = plugin.RatePolicy(ov.Policy)
	default:
		return domain.NewValidationError("external.sources."+s.id+".policy", "unknown policy %q (want wait or fail-fast)", ov.Policy)
	}
	if ov.MaxWait > 0 {
		s.limit.MaxWait = ov.MaxWait
	}
	if ov.Timeout > 0 {
		s.limit.Timeout = ov.Timeout
	}
	if ov.CacheTTL > 0 {
		s.limit.CacheTTL = ov.CacheTTL
	}
	return nil
}

// markdownParser reads a README list, keeping items that look relevant to
// the query.
func markdownParser(source string, install func(name string) string) func([]byte, string) ([]domain.ExternalSuggestion, error) {
	return func(body []byte, query string) ([]domain.ExternalSuggestion, error) {
		var out []domain.ExternalSuggestion
		for _, item := range parseListLinks(body) {
			if item.Name == "" || item.URL == "" || strings.HasPrefix(item.URL, "#") {
				continue
			}
			rel := Relevance(query, item.Name, item.Description)
			if rel <= markdownMinimum {
				continue
			}
			desc := textutil.Truncate(item.Description, maxDescription)
			if desc == "" {
				desc = "MCP server: " + item.Name
			}
			s := domain.ExternalSuggestion{
				Source:      domain.SourceID(source),
				Type:        "mcp",
				Name:        item.Name,
				Description: desc,
				Relevance:   rel,
				URL:         item.URL,
			}
			if install != nil {
				s.InstallCommand = install(item.Name)
			}
			out = append(out, s)
		}
		return out, nil
	}
}

func parseJSONList(body []byte, path string) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON")
	}
	list := gjson.GetBytes(body, path)
	if !list.Exists() {
		return nil, nil
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%s is not an array", path)
	}
	return list.Array(), nil
}

func scoreOr(item gjson.Result, query, name, desc string) float64 {
	if s := item.Get("score"); s.Type == gjson.Number && s.Float() > 0 {
		return clamp01(s.Float())
	}
	return Relevance(query, name, desc)
}

func parseSmithery(body []byte, query string) ([]domain.ExternalSuggestion, error) {
	items, err := parseJSONList(body, "results")
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExternalSuggestion, 0, len(items))
	for _, it := range items {
		if !it.IsObject() {
			continue
		}
		name := orDefault(it.Get("name").String(), "Unknown")
		desc := it.Get("description").String()
		slug := it.Get("slug").String()
		link := it.Get("url").String()
		if link == "" && slug != "" {
			link = "https://smithery.ai/server/" + slug
		}
		s := domain.ExternalSuggestion{
			Source:      domain.SourceSmithery,
			Type:        "mcp",
			Name:        name,
			Description: desc,
			URL:         link,
			Relevance:   scoreOr(it, query, name, desc),
		}
		if slug != "" {
			s.InstallCommand = "npx -y @smithery/" + slug
		}
		out = append(out, s)
	}
	return out, nil
}

func parseGlama(body []byte, query string) ([]domain.ExternalSuggestion, error) {
	items, err := parseJSONList(body, "servers")
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExternalSuggestion, 0, len(items))
	for _, it := range items {
		if !it.IsObject() {
			continue
		}
		name := orDefault(it.Get("name").String(), "Unknown")
		desc := it.Get("description").String()
		link := it.Get("repository").String()
		if link == "" {
			link = "https://glama.ai/mcp/servers/" + url.PathEscape(name)
		}
		out = append(out, domain.ExternalSuggestion{
			Source:      domain.SourceGlama,
			Type:        "mcp",
			Name:        name,
			Description: desc,
			URL:         link,
			Relevance:   scoreOr(it, query, name, desc),
		})
	}
	return out, nil
}

const minGitHubStars = 10

func parseGitHub(body []byte, query string) ([]domain.ExternalSuggestion, error) {
	items, err := parseJSONList(body, "items")
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExternalSuggestion, 0, len(items))
	for _, it := range items {
		if !it.IsObject() || it.Get("stargazers_count").Int() < minGitHubStars {
			continue
		}
		name := orDefault(it.Get("name").String(), "Unknown")
		desc := it.Get("description").String()
		out = append(out, domain.ExternalSuggestion{
			Source:      domain.SourceGitHubTopics,
			Type:        "mcp",
			Name:        name,
			Description: desc,
			URL:         it.Get("html_url").String(),
			Relevance:   Relevance(query, name, desc),
		})
	}
	return out, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
