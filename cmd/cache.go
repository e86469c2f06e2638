package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/cache"
	"github.com/kamusis/skillmatch/internal/config"
)

var flagCacheMetrics bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the embedding and external-result caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache sizes and counters",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached embedding and external result",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&flagCacheMetrics, "metrics", false, "Print Prometheus metrics in text exposition format")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		if flagCacheMetrics {
			return writeMetrics(a)
		}
		stats := []cache.Stats{a.embCache.Stats(), a.extCache.Stats()}
		if flagJSON {
			return printJSON(stats)
		}
		printSection(fmt.Sprintf("Caches (%s backend)", a.cfg.Cache.Backend))
		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tENTRIES\tMAX\tHITS\tMISSES\tHIT RATIO\tEVICTIONS\tEXPIRED")
		for _, s := range stats {
			fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t%d\t%.2f\t%d\t%d\n",
				s.Name, s.Entries, s.MaxEntries, s.Hits, s.Misses, s.HitRatio(), s.Evictions, s.Expirations)
		}
		return w.Flush()
	})
}

func writeMetrics(a *app) error {
	families, err := a.metrics.Gather()
	if err != nil {
		return fmt.Errorf("cannot gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(stdout, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("cannot encode metrics: %w", err)
		}
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		emb, ext := a.embCache.Len(), a.extCache.Len()
		a.embCache.Clear()
		a.extCache.Clear()
		if flagJSON {
			return printJSON(map[string]int{a.embCache.Name(): emb, a.extCache.Name(): ext})
		}
		printOK(a.embCache.Name(), fmt.Sprintf("%d entries removed", emb))
		printOK(a.extCache.Name(), fmt.Sprintf("%d entries removed", ext))
		if a.cfg.Cache.Backend == config.BackendMemory {
			printSkip("", "memory backend: nothing persisted")
		}
		return nil
	})
}
