package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/external"
	"github.com/kamusis/skillmatch/internal/matcher"
	"github.com/kamusis/skillmatch/internal/vectorstore"
)

var (
	flagMatchK          int
	flagMatchGap        bool
	flagMatchExternal   bool
	flagMatchSources    []string
	flagMatchCategories []string
	flagMatchTags       []string
)

var matchCmd = &cobra.Command{
	Use:   "match <request>",
	Short: "Rank catalog skills against a request",
	Long: `Rank every skill in the catalog against a free-text request using a
blend of semantic similarity and trigger keywords.

When the best match is weak, --gap proposes the skill that is missing and
--external looks for candidates in MCP registries.

Example:
  skillmatch match "design a landing page for my bakery"
  skillmatch match --gap --external "brew kombucha at home"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().IntVar(&flagMatchK, "k", 0, "Number of matches to show (default matching.max_results)")
	matchCmd.Flags().BoolVar(&flagMatchGap, "gap", true, "Propose a new skill when nothing matches well")
	matchCmd.Flags().BoolVar(&flagMatchExternal, "external", false, "Search external registries when nothing matches well")
	matchCmd.Flags().StringSliceVar(&flagMatchSources, "source", nil, "External sources to query (repeatable)")
	matchCmd.Flags().StringSliceVar(&flagMatchCategories, "category", nil, "Only match skills in these categories")
	matchCmd.Flags().StringSliceVar(&flagMatchTags, "tag", nil, "Only match skills carrying any of these tags")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if _, err := a.ensureIndex(ctx); err != nil {
			return err
		}
		resp, err := a.svc.MatchSkills(ctx, matcher.MatchRequest{
			Query:              strings.Join(args, " "),
			MaxResults:         flagMatchK,
			IncludeGapAnalysis: flagMatchGap,
			IncludeExternal:    flagMatchExternal,
			Sources:            flagMatchSources,
			Filter: vectorstore.Filter{
				Categories: flagMatchCategories,
				Tags:       flagMatchTags,
			},
		})
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(resp)
		}
		printMatchResponse(resp)
		return nil
	})
}

func printMatchResponse(resp *matcher.MatchResponse) {
	fmt.Fprintf(stdout, "\nskillmatch match %q\n", resp.Query)

	printSection(fmt.Sprintf("Matches (%d)", len(resp.Matches)))
	if len(resp.Matches) == 0 {
		printMiss("", "no catalog skill scored above the match threshold")
	}
	printMatches(resp.Matches)

	if resp.Gap != nil {
		printGap(*resp.Gap)
	}
	if resp.External != nil {
		printExternal(resp.External)
	}
	for _, w := range resp.Warnings {
		printWarn("", w)
	}
	fmt.Fprintf(stdout, "\n(%s)\n", resp.Took.Round(time.Millisecond))
}

func printMatches(matches []domain.MatchResult) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for i, m := range matches {
		fmt.Fprintf(w, "  %d.\t[%.3f]\t%s\t%s\n", i+1, m.Score, m.Entry.ID, m.MatchType)
		if d := strings.TrimSpace(m.Entry.Description); d != "" {
			fmt.Fprintf(w, "  - %s\n", d)
		}
		fmt.Fprintf(w, "    why: %s\n", m.Reasoning)
		for _, h := range m.Hints {
			fmt.Fprintf(w, "    hint: %s\n", h)
		}
	}
	_ = w.Flush()
}

func printGap(g domain.GapAnalysis) {
	printSection("Missing skill")
	o := g.Opportunity
	printInfo(o.Category, fmt.Sprintf("%s: %s", o.Name, o.Description))

	printBullet("Suggested triggers:")
	for _, t := range o.SuggestedTriggers {
		fmt.Fprintf(stdout, "    %s\n", t)
	}
	printBullet("Research:")
	for _, t := range g.Research.Topics {
		fmt.Fprintf(stdout, "    %s\n", t)
	}
	for _, r := range g.Research.Resources {
		fmt.Fprintf(stdout, "    %s\n", r)
	}
	printBullet("Related skills:")
	if len(g.RelatedSkills) == 0 {
		printMiss("", "none in the catalog")
	}
	for _, e := range g.RelatedSkills {
		printInfo(e.Category, e.ID)
	}
	printBullet("Success criteria:")
	for _, m := range g.SuccessCriteria.Metrics {
		fmt.Fprintf(stdout, "    %s\n", m)
	}
	if v := g.SuccessCriteria.Validation; v != "" {
		fmt.Fprintf(stdout, "    %s\n", v)
	}
}

func printExternal(res *external.Result) {
	printSection(fmt.Sprintf("External candidates (%d)", len(res.Suggestions)))
	if len(res.Suggestions) == 0 {
		printMiss("", "no registry returned a relevant candidate")
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for i, s := range res.Suggestions {
		fmt.Fprintf(w, "  %d.\t[%.2f]\t%s\t%s\n", i+1, s.Relevance, s.Name, s.Source)
		if d := strings.TrimSpace(s.Description); d != "" {
			fmt.Fprintf(w, "  - %s\n", d)
		}
		if s.URL != "" {
			fmt.Fprintf(w, "    %s\n", s.URL)
		}
		if s.InstallCommand != "" {
			fmt.Fprintf(w, "    $ %s\n", s.InstallCommand)
		}
	}
	_ = w.Flush()
	for _, warn := range res.Warnings {
		printSkip(warn.Source, fmt.Sprintf("%s: %s", warn.Kind, warn.Message))
	}
}
