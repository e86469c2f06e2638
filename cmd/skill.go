package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kamusis/skillmatch/internal/catalog"
	"github.com/kamusis/skillmatch/internal/config"
	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/importer"
	"github.com/kamusis/skillmatch/internal/textutil"
	"github.com/kamusis/skillmatch/internal/vectorstore"
)

var (
	flagSkillCategory string
	flagSkillGroupBy  string
	flagSkillGrepK    int
	flagSkillExcludes []string
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect the skills in the catalog",
}

var skillShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one skill's metadata",
	Long: `Display a formatted summary of a catalog skill: description, category,
triggers, the cases it is not for and its tags.

Example:
  skillmatch skill show web-design-expert`,
	Args: cobra.ExactArgs(1),
	RunE: runSkillShow,
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog skills",
	Long: `List every indexed skill, optionally limited to one category or grouped
by category or primary tag.

Example:
  skillmatch skill list --category design
  skillmatch skill list --group-by primary-tag`,
	Args: cobra.NoArgs,
	RunE: runSkillList,
}

var skillGrepCmd = &cobra.Command{
	Use:   "grep <text>",
	Short: "Find skills whose metadata contains text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSkillGrep,
}

var skillImportCmd = &cobra.Command{
	Use:   "import <dir>...",
	Short: "Copy existing skill folders into the catalog",
	Long: `Copy every <dir>/<name>/SKILL.md folder into the catalog. Skills already
present with identical content are skipped; a differing SKILL.md is kept
aside as SKILL.conflict-<source>.md for manual review.

Example:
  skillmatch skill import ~/.claude/skills ~/.codeium/windsurf/skills`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSkillImport,
}

func init() {
	skillImportCmd.Flags().StringSliceVar(&flagSkillExcludes, "exclude", importer.DefaultExcludes, "Glob patterns never copied")
	skillListCmd.Flags().StringVar(&flagSkillCategory, "category", "", "Only list skills in this category")
	skillListCmd.Flags().StringVar(&flagSkillGroupBy, "group-by", "", "Group by category or primary-tag")
	skillGrepCmd.Flags().IntVar(&flagSkillGrepK, "k", 20, "Maximum number of skills to show")
	skillCmd.AddCommand(skillShowCmd, skillListCmd, skillGrepCmd, skillImportCmd)
	rootCmd.AddCommand(skillCmd)
}

func runSkillShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if _, err := a.ensureIndex(ctx); err != nil {
			return err
		}
		e, err := a.svc.GetSkill(args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(e)
		}
		printSkill(e)
		return nil
	})
}

func printSkill(e *domain.Entry) {
	fmt.Fprintf(stdout, "\n%s\n", e.Name)
	fmt.Fprintln(stdout, strings.Repeat("─", 50))

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  ID:\t%s\n", e.ID)
	if e.Category != "" {
		fmt.Fprintf(w, "  Category:\t%s\n", e.Category)
	}
	if e.Path != "" {
		fmt.Fprintf(w, "  Path:\t%s\n", e.Path)
	}
	if len(e.Tags) > 0 {
		ids := make([]string, len(e.Tags))
		for i, t := range e.Tags {
			ids[i] = t.ID
		}
		fmt.Fprintf(w, "  Tags:\t%s\n", strings.Join(ids, ", "))
	}
	_ = w.Flush()

	if e.Description != "" {
		printBullet("Description:")
		fmt.Fprintf(stdout, "    %s\n", e.Description)
	}
	printBullet("Triggers:")
	if len(e.Activation.Triggers) == 0 {
		printMiss("", "none declared")
	}
	for _, t := range e.Activation.Triggers {
		fmt.Fprintf(stdout, "    %s\n", t)
	}
	if len(e.Activation.NotFor) > 0 {
		printBullet("Not for:")
		for _, t := range e.Activation.NotFor {
			fmt.Fprintf(stdout, "    %s\n", t)
		}
	}
}

func runSkillList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if _, err := a.ensureIndex(ctx); err != nil {
			return err
		}
		if flagSkillGroupBy != "" {
			field, err := vectorstore.ParseGroupField(flagSkillGroupBy)
			if err != nil {
				return err
			}
			groups, err := a.svc.Groups(field)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(groups)
			}
			for _, k := range vectorstore.GroupKeys(groups) {
				label := k
				if k == vectorstore.Ungrouped {
					label = vectorstore.UngroupedLabel
				}
				printSection(fmt.Sprintf("%s (%d)", label, len(groups[k])))
				printEntries(groups[k])
			}
			return nil
		}

		entries, err := a.svc.ListSkills(flagSkillCategory)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(entries)
		}
		printSection(fmt.Sprintf("Skills (%d)", len(entries)))
		if len(entries) == 0 {
			printMiss("", "no skills")
		}
		printEntries(entries)
		return nil
	})
}

func runSkillGrep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if _, err := a.ensureIndex(ctx); err != nil {
			return err
		}
		all, err := a.svc.ListSkills("")
		if err != nil {
			return err
		}
		hits := catalog.Grep(all, strings.Join(args, " "), flagSkillGrepK)
		if flagJSON {
			return printJSON(hits)
		}
		printSection(fmt.Sprintf("Skills (%d found)", len(hits)))
		if len(hits) == 0 {
			printMiss("", "no skill mentions that text")
		}
		printEntries(hits)
		return nil
	})
}

func printEntries(entries []*domain.Entry) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", e.ID, e.Category, strings.TrimSpace(e.Description))
	}
	_ = w.Flush()
}

func runSkillImport(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printSection("Import skills")

	var conflicts []importer.ConflictPair
	for _, arg := range args {
		dir, err := config.ExpandPath(arg)
		if err != nil {
			return err
		}
		label := sourceLabel(dir)
		r, err := importer.ImportDir(dir, cfg.CatalogPath, label, flagSkillExcludes)
		if err != nil {
			printErr(label, err.Error())
			continue
		}
		printOK(label, fmt.Sprintf("%d imported, %d already present, %d conflict(s)  (%d file(s))",
			len(r.Imported), len(r.Skipped), len(r.Conflicts), r.Files))
		conflicts = append(conflicts, r.Conflicts...)
	}

	if len(conflicts) > 0 {
		printBullet(fmt.Sprintf("%d conflict(s); review and delete the copies you do not need:", len(conflicts)))
		for _, c := range conflicts {
			fmt.Fprintf(stdout, "     - %s  ← conflicts with %s\n", c.Conflict, c.Original)
		}
	}
	fmt.Fprintln(stdout, "\nRun 'skillmatch index' to embed the new skills.")
	return nil
}

// sourceLabel names an import directory for conflict files:
// ~/.claude/skills → claude, ~/work/prompts → prompts.
func sourceLabel(dir string) string {
	base := filepath.Base(filepath.Clean(dir))
	if base == "skills" {
		base = filepath.Base(filepath.Dir(filepath.Clean(dir)))
	}
	if label := textutil.Slug(base); label != "" {
		return label
	}
	return "import"
}
