package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/cache"
	"github.com/kamusis/skillmatch/internal/matcher"
	"github.com/kamusis/skillmatch/internal/plugin"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the index, plugins and caches in use",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Index   matcher.Status      `json:"index"`
	Plugins map[plugin.Kind]int `json:"plugins"`
	Caches  []cache.Stats       `json:"caches"`
	Catalog string              `json:"catalog"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if _, err := a.ensureIndex(ctx); err != nil {
			return err
		}
		r := statusReport{
			Index:   a.svc.Status(),
			Plugins: a.reg.Stats(),
			Caches:  []cache.Stats{a.embCache.Stats(), a.extCache.Stats()},
			Catalog: a.cfg.CatalogPath,
		}
		if flagJSON {
			return printJSON(r)
		}

		printSection("Index")
		if r.Index.Entries == 0 {
			printMiss("", fmt.Sprintf("no skills in %s", r.Catalog))
		} else {
			printOK("", fmt.Sprintf("%d skills from %s", r.Index.Entries, r.Catalog))
		}
		printInfo("model", fmt.Sprintf("%s (dim %d)", r.Index.ModelID, r.Index.Dim))
		if !r.Index.BuiltAt.IsZero() {
			printInfo("built", r.Index.BuiltAt.Format(time.RFC3339))
		}

		printSection("Plugins")
		for _, k := range plugin.Kinds {
			if n := r.Plugins[k]; n > 0 {
				printOK(string(k), fmt.Sprintf("%d registered", n))
			} else {
				printSkip(string(k), "none")
			}
		}

		printSection("Caches")
		for _, s := range r.Caches {
			printInfo(s.Name, fmt.Sprintf("%d/%d entries", s.Entries, s.MaxEntries))
		}
		return nil
	})
}
