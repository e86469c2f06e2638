package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/catalog"
	"github.com/kamusis/skillmatch/internal/config"
	"github.com/kamusis/skillmatch/internal/embeddings"
	"github.com/kamusis/skillmatch/internal/vectorstore"
)

var flagDoctorOnline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight environment checks",
	Long: `Check that skillmatch's config, catalog, embeddings provider, index and
caches are usable. Run this command when something seems wrong, or before
filing a bug report.

With --online every external source is probed as well.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&flagDoctorOnline, "online", false, "Also probe every external source")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}
	header := func(title string) { fmt.Fprintf(stdout, "\n[ %s ]\n", title) }

	printSection("skillmatch doctor")

	// ── config.yaml ──────────────────────────────────────────────────────────
	header("config.yaml")
	cfg, loadErr := loadConfig()
	if loadErr != nil {
		failD("%v", loadErr)
	} else {
		printOK("", "valid")
	}

	// ── .env ─────────────────────────────────────────────────────────────────
	header(".env")
	if p, err := config.DotEnvPath(); err != nil {
		failD("cannot determine home directory: %v", err)
	} else if info, err := os.Stat(p); err != nil {
		printMiss("", fmt.Sprintf("%s not found (run 'skillmatch init' to create a template)", p))
	} else if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		printWarn("", fmt.Sprintf("%s is readable by other users (chmod 600 it)", p))
	} else {
		printOK("", p)
	}

	if loadErr != nil {
		printSkip("", "remaining checks skipped (config.yaml not loaded)")
		return doctorSummary(false)
	}

	// ── Catalog ──────────────────────────────────────────────────────────────
	header("Catalog")
	entries := checkCatalog(ctx, cfg, failD)

	// ── Embeddings ───────────────────────────────────────────────────────────
	header("Embeddings")
	modelID := checkEmbeddings(cfg, failD)

	// ── Index ────────────────────────────────────────────────────────────────
	header("Index")
	indexDir := matcherConfig(cfg).IndexDir
	snap, err := vectorstore.ReadSnapshot(indexDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		printMiss("", fmt.Sprintf("no snapshot at %s (run 'skillmatch index')", indexDir))
	case err != nil:
		failD("snapshot at %s is unreadable: %v", indexDir, err)
	default:
		m := snap.Manifest
		printOK("", fmt.Sprintf("%d skills, %s (dim %d), built %s", len(snap.Entries), m.ModelID, m.Dim, m.CreatedAt))
		if entries >= 0 && entries != len(snap.Entries) {
			printWarn("", fmt.Sprintf("catalog has %d skills, snapshot has %d (run 'skillmatch index')", entries, len(snap.Entries)))
		}
		if cfg.Embeddings.Provider == "openai" && modelID != "" && m.ModelID != modelID {
			printWarn("", fmt.Sprintf("snapshot model %s differs from configured %s; next index run re-embeds", m.ModelID, modelID))
		}
	}

	// ── Cache ────────────────────────────────────────────────────────────────
	header("Cache")
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		printSkip("", "memory backend: nothing persisted between runs")
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			failD("data dir %s is not writable: %v", cfg.DataDir, err)
		} else {
			printOK("", fmt.Sprintf("%s backend under %s", cfg.Cache.Backend, cfg.DataDir))
		}
	}

	// ── External sources ─────────────────────────────────────────────────────
	header("External sources")
	if !flagDoctorOnline {
		printSkip("", "not probed (use --online)")
		return doctorSummary(allOK)
	}
	if err := withApp(ctx, func(a *app) error {
		for _, src := range a.reg.ExternalSources() {
			if err := checkSource(ctx, src, a.cfg.External.Timeout.D()); err != nil {
				printWarn(src.ID(), err.Error())
				continue
			}
			printOK(src.ID(), src.DisplayName())
		}
		return nil
	}); err != nil {
		failD("cannot initialise sources: %v", err)
	}
	return doctorSummary(allOK)
}

// checkCatalog loads and validates the catalog. It returns the entry count,
// or -1 when the catalog could not be loaded.
func checkCatalog(ctx context.Context, cfg *config.Config, failD func(string, ...any)) int {
	if _, err := os.Stat(cfg.CatalogPath); err != nil {
		failD("catalog dir %s not found (run 'skillmatch init')", cfg.CatalogPath)
		return -1
	}
	entries, err := catalog.DirLoader{Root: cfg.CatalogPath}.Load(ctx)
	if err != nil {
		failD("cannot load catalog: %v", err)
		return -1
	}
	if err := catalog.Validate(entries); err != nil {
		failD("%v", err)
		return -1
	}
	if len(entries) == 0 {
		printWarn("", fmt.Sprintf("no skills under %s (add <id>/SKILL.md files)", cfg.CatalogPath))
		return 0
	}
	printOK("", fmt.Sprintf("%d skills in %s", len(entries), cfg.CatalogPath))
	return len(entries)
}

// checkEmbeddings builds the configured provider and returns its model id.
func checkEmbeddings(cfg *config.Config, failD func(string, ...any)) string {
	embCfg, err := embeddings.LoadConfig(cfg.Embeddings)
	if err != nil {
		failD("%v", err)
		return ""
	}
	if embCfg.Provider == "openai" && embCfg.APIKey == "" {
		printWarn("", fmt.Sprintf("%s is not set; falling back to local embeddings", config.KeyOpenAIAPIKey))
		return ""
	}
	p, err := embeddings.NewFromConfig(embCfg)
	if err != nil {
		failD("%v", err)
		return ""
	}
	printOK("", fmt.Sprintf("%s (dim %d)", p.ModelID(), p.Dim()))
	return p.ModelID()
}

func doctorSummary(allOK bool) error {
	fmt.Fprintln(stdout, "\n===================")
	if !allOK {
		fmt.Fprintln(stderr, "✗  One or more checks failed. See details above.")
		return errors.New("doctor found issues")
	}
	fmt.Fprintln(stdout, "✓  All checks passed. skillmatch is ready to use.")
	return nil
}
