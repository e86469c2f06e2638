package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/matcher"
	"github.com/kamusis/skillmatch/internal/plugin"
)

var (
	flagExternalSources      []string
	flagExternalK            int
	flagExternalMinRelevance float64
	flagExternalCheck        bool
)

var externalCmd = &cobra.Command{
	Use:   "external <query>",
	Short: "Search external MCP registries for skills",
	Long: `Query external registries (MCP registry, awesome lists, Smithery, Glama,
GitHub topics) and print merged, deduplicated candidates.

A failing registry never fails the command; it is reported as a warning.

Example:
  skillmatch external "postgres"
  skillmatch external --source smithery --source glama "browser automation"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExternal,
}

var externalSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered external sources",
	Args:  cobra.NoArgs,
	RunE:  runExternalSources,
}

func init() {
	externalCmd.Flags().StringSliceVar(&flagExternalSources, "source", nil, "Sources to query (default external.default_sources)")
	externalCmd.Flags().IntVar(&flagExternalK, "k", 0, "Maximum number of candidates (default external.max_results)")
	externalCmd.Flags().Float64Var(&flagExternalMinRelevance, "min-relevance", 0, "Drop candidates below this relevance (default external.min_relevance)")
	externalSourcesCmd.Flags().BoolVar(&flagExternalCheck, "check", false, "Probe each source for reachability")
	externalCmd.AddCommand(externalSourcesCmd)
	rootCmd.AddCommand(externalCmd)
}

func runExternal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		res, err := a.svc.SearchExternal(ctx, matcher.ExternalRequest{
			Query:        strings.Join(args, " "),
			Sources:      flagExternalSources,
			MaxResults:   flagExternalK,
			MinRelevance: flagExternalMinRelevance,
		})
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(res)
		}
		fmt.Fprintf(stdout, "\nskillmatch external %q\n", res.Query)
		printExternal(res)
		return nil
	})
}

type sourceStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PerMinute int    `json:"perMinute"`
	Policy    string `json:"policy"`
	Healthy   *bool  `json:"healthy,omitempty"`
	Error     string `json:"error,omitempty"`
}

func runExternalSources(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		var out []sourceStatus
		for _, src := range a.reg.ExternalSources() {
			rl := src.RateLimit()
			st := sourceStatus{
				ID:        src.ID(),
				Name:      src.DisplayName(),
				PerMinute: rl.PerMinute,
				Policy:    string(rl.Policy),
			}
			if flagExternalCheck {
				err := checkSource(ctx, src, a.cfg.External.Timeout.D())
				ok := err == nil
				st.Healthy = &ok
				if err != nil {
					st.Error = err.Error()
				}
			}
			out = append(out, st)
		}
		if flagJSON {
			return printJSON(out)
		}
		printSection("External sources")
		for _, st := range out {
			msg := fmt.Sprintf("%s (%d/min, %s)", st.Name, st.PerMinute, st.Policy)
			switch {
			case st.Healthy == nil:
				printInfo(st.ID, msg)
			case *st.Healthy:
				printOK(st.ID, msg)
			default:
				printErr(st.ID, msg+": "+st.Error)
			}
		}
		return nil
	})
}

// checkSource probes src. Sources without a health probe are reported healthy.
func checkSource(ctx context.Context, src plugin.ExternalSource, timeout time.Duration) error {
	hc, ok := src.(plugin.HealthChecker)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return hc.HealthCheck(ctx)
}
