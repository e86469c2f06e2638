package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/catalog"
	"github.com/kamusis/skillmatch/internal/config"
	"github.com/kamusis/skillmatch/internal/importer"
)

// exampleSkill is written into an empty catalog so the first match has
// something to rank.
const exampleSkill = `---
name: Web Design Expert
description: Designs responsive websites and landing pages with a clear visual hierarchy.
category: design
tags: [web, ui]
activation:
  triggers:
    - design a website
    - landing page
    - responsive layout
  notFor:
    - mobile app
---

# Web Design Expert

Plan the page structure first, then typography, color and spacing.
`

var (
	flagInitImport  []string
	flagInitExample bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create ~/.skillmatch with a default config and catalog",
	Long: `Initialize skillmatch at ~/.skillmatch/: config.yaml, the skills catalog,
the data directory and a .env template for secrets.

Existing files are never overwritten. Use --import to copy skill folders
from other tools into the new catalog.

Example:
  skillmatch init
  skillmatch init --import ~/.claude/skills`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringSliceVar(&flagInitImport, "import", nil, "Skill directories to copy into the catalog (repeatable)")
	initCmd.Flags().BoolVar(&flagInitExample, "example", true, "Write an example skill into an empty catalog")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	// ── 1. ~/.skillmatch ──────────────────────────────────────────────────────
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	printOK("", fmt.Sprintf("skillmatch directory ready: %s", dir))

	// ── 2. config.yaml ────────────────────────────────────────────────────────
	cfgPath := flagConfig
	if cfgPath == "" {
		if cfgPath, err = config.ConfigPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		if err := config.Save(cfg, cfgPath); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("Config written: %s", cfgPath))
	} else {
		printSkip("", fmt.Sprintf("Config already exists: %s", cfgPath))
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// ── 3. Catalog and data dirs ──────────────────────────────────────────────
	for _, d := range []string{cfg.CatalogPath, cfg.DataDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("cannot create %s: %w", d, err)
		}
	}
	printOK("", fmt.Sprintf("Catalog: %s", cfg.CatalogPath))
	printOK("", fmt.Sprintf("Data:    %s", cfg.DataDir))

	// ── 4. .env template ──────────────────────────────────────────────────────
	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}
	if p, err := config.DotEnvPath(); err == nil {
		printOK("", fmt.Sprintf("Secrets template: %s", p))
	}

	// ── 5. Import existing skills ─────────────────────────────────────────────
	for _, arg := range flagInitImport {
		src, err := config.ExpandPath(arg)
		if err != nil {
			return err
		}
		label := sourceLabel(src)
		r, err := importer.ImportDir(src, cfg.CatalogPath, label, importer.DefaultExcludes)
		if err != nil {
			printWarn(label, err.Error())
			continue
		}
		printOK(label, fmt.Sprintf("%d skill(s) imported, %d conflict(s)", len(r.Imported), len(r.Conflicts)))
	}

	// ── 6. Example skill ──────────────────────────────────────────────────────
	if flagInitExample && catalogEmpty(cfg.CatalogPath) {
		p := filepath.Join(cfg.CatalogPath, "web-design-expert", catalog.SkillFile)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(exampleSkill), 0o644); err != nil {
			return fmt.Errorf("cannot write example skill: %w", err)
		}
		printInfo("", fmt.Sprintf("Example skill written: %s", p))
	}

	fmt.Fprintln(stdout, "\n✓  skillmatch init complete. Run 'skillmatch doctor' to verify your environment.")
	return nil
}

// catalogEmpty reports whether dir has no skill folders.
func catalogEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.IsDir() {
			if _, err := os.Stat(filepath.Join(dir, e.Name(), catalog.SkillFile)); err == nil {
				return false
			}
		}
	}
	return true
}
