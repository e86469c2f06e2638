package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/matcher"
)

var flagIndexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the skill index (~/.skillmatch/data/index)",
	Long: `Load the catalog, embed every skill and persist the vectors.

Unchanged skills reuse their stored vectors; --force re-embeds everything.

Example:
  skillmatch index
  skillmatch index --force`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagIndexForce, "force", false, "Re-embed every skill even if nothing changed")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		report, err := a.svc.BuildIndex(ctx, flagIndexForce)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(report)
		}
		printBuildReport(report)
		return nil
	})
}

func printBuildReport(r *matcher.BuildReport) {
	printSection("Index")
	switch {
	case r.Entries == 0:
		printMiss("", "catalog is empty")
	case r.FromSnapshot:
		printOK("", fmt.Sprintf("%d skills loaded from snapshot", r.Entries))
	default:
		printOK("", fmt.Sprintf("%d skills indexed (%d embedded, %d reused)", r.Entries, r.Embedded, r.Reused))
	}
	printInfo("model", fmt.Sprintf("%s (dim %d)", r.ModelID, r.Dim))
	if r.Persisted {
		printOK("", "snapshot written")
	}
	for _, w := range r.Warnings {
		printWarn("", w)
	}
	fmt.Fprintf(stdout, "\n(%s)\n", r.Took.Round(time.Millisecond))
}
