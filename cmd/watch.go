package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/logging"
	"github.com/kamusis/skillmatch/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild the index whenever the catalog changes",
	Long: `Build the index, then watch the catalog directory and rebuild after each
burst of changes (debounced by watch.debounce). Expired cache entries are
swept every cache.janitor_interval. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if err := os.MkdirAll(a.cfg.CatalogPath, 0o755); err != nil {
			return fmt.Errorf("cannot create catalog dir %s: %w", a.cfg.CatalogPath, err)
		}
		report, err := a.ensureIndex(ctx)
		if err != nil {
			return err
		}
		printBuildReport(report)

		a.embCache.StartJanitor(ctx, a.cfg.Cache.JanitorInterval.D())
		a.extCache.StartJanitor(ctx, a.cfg.Cache.JanitorInterval.D())

		logger := logging.Component("watch")
		w := &watch.Watcher{
			Root:     a.cfg.CatalogPath,
			Debounce: a.cfg.Watch.Debounce.D(),
			Logger:   &logger,
			OnChange: func(ctx context.Context) error {
				report, err := a.svc.BuildIndex(ctx, false)
				if err != nil {
					return err
				}
				printBuildReport(report)
				return a.embCache.Flush(ctx)
			},
		}
		printInfo("", fmt.Sprintf("watching %s (Ctrl-C to stop)", a.cfg.CatalogPath))
		return w.Run(ctx)
	})
}
