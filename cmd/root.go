package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "skillmatch",
	Short:        "Match requests to skills and propose the ones that are missing",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `skillmatch ranks a catalog of skills (~/.skillmatch/skills/*/SKILL.md)
against a free-text request. When nothing local fits it proposes the missing
skill and looks for candidates in external MCP registries.`,
}

var (
	flagConfig   string
	flagLogLevel string
	flagJSON     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.skillmatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print results as JSON")
}

// Execute runs the CLI through fang. Called by main.go.
func Execute(ctx context.Context) error {
	return fang.Execute(ctx, rootCmd,
		fang.WithVersion(version),
		fang.WithCommit(commit),
		fang.WithNotifySignal(os.Interrupt),
	)
}
