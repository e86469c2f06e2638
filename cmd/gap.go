package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var gapCmd = &cobra.Command{
	Use:   "gap <request>",
	Short: "Propose the skill a request would need",
	Long: `Run gap analysis for a request even when the catalog already covers it.
Prints the proposed skill together with the nearest existing ones.

Example:
  skillmatch gap "generate invoices from timesheets"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGap,
}

func init() {
	rootCmd.AddCommand(gapCmd)
}

func runGap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if _, err := a.ensureIndex(ctx); err != nil {
			return err
		}
		resp, err := a.svc.AnalyzeGap(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(resp)
		}
		fmt.Fprintf(stdout, "\nskillmatch gap %q\n", resp.Query)
		printGap(resp.Analysis)
		printSection(fmt.Sprintf("Nearest skills (%d)", len(resp.Nearest)))
		if len(resp.Nearest) == 0 {
			printMiss("", "catalog is empty")
		}
		printMatches(resp.Nearest)
		return nil
	})
}
