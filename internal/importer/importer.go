// Package importer copies skill directories from other tools into the
// catalog, skipping identical copies and keeping conflicting ones aside.
package importer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/kamusis/skillmatch/internal/catalog"
)

// DefaultExcludes are editor and OS droppings never copied into the catalog.
var DefaultExcludes = []string{".DS_Store", "Thumbs.db", "*.tmp", "*.bak", "*~", "*.swp"}

// ConflictPair records an incoming SKILL.md that differs from the catalog's.
type ConflictPair struct {
	Original string // SKILL.md already in the catalog
	Conflict string // where the incoming version was stored
	Source   string // label of the directory it came from
}

// Result is returned by ImportDir.
type Result struct {
	Imported  []string // skill directories newly added to the catalog
	Skipped   []string // skills whose SKILL.md was already identical
	Conflicts []ConflictPair
	Files     int // files copied, conflict copies included
}

// ImportDir copies every <srcDir>/<name>/ that contains a SKILL.md into
// catalogDir/<name>/. Existing files are never overwritten: a differing
// SKILL.md is written next to the original as SKILL.conflict-<source>.md,
// which the catalog loader ignores. Directories without a SKILL.md and
// paths matching excludes are skipped.
func ImportDir(srcDir, catalogDir, source string, excludes []string) (*Result, error) {
	dirs, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", srcDir, err)
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create catalog dir %s: %w", catalogDir, err)
	}

	result := &Result{}
	for _, d := range dirs {
		name := d.Name()
		if !d.IsDir() || strings.HasPrefix(name, ".") || matchesExclude(name, excludes) {
			continue
		}
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(filepath.Join(src, catalog.SkillFile)); err != nil {
			continue
		}
		if err := importSkill(src, filepath.Join(catalogDir, name), source, excludes, result); err != nil {
			return result, fmt.Errorf("import %s: %w", name, err)
		}
	}
	sort.Strings(result.Imported)
	sort.Strings(result.Skipped)
	return result, nil
}

func importSkill(src, dst, source string, excludes []string, result *Result) error {
	name := filepath.Base(dst)
	srcSkill := filepath.Join(src, catalog.SkillFile)
	dstSkill := filepath.Join(dst, catalog.SkillFile)

	if _, err := os.Stat(dstSkill); err == nil {
		same, err := sameContent(srcSkill, dstSkill)
		if err != nil {
			return err
		}
		if same {
			result.Skipped = append(result.Skipped, name)
			return nil
		}
		conflict := conflictPath(dstSkill, source)
		if err := copyFile(srcSkill, conflict); err != nil {
			return fmt.Errorf("conflict copy %s → %s: %w", srcSkill, conflict, err)
		}
		result.Files++
		result.Conflicts = append(result.Conflicts, ConflictPair{Original: dstSkill, Conflict: conflict, Source: source})
		return nil
	}

	err := filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && matchesExclude(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return fmt.Errorf("copy %s → %s: %w", path, target, err)
		}
		result.Files++
		return nil
	})
	if err != nil {
		return err
	}
	result.Imported = append(result.Imported, name)
	return nil
}

// conflictPath inserts .conflict-<source> before the extension.
//
//	SKILL.md → SKILL.conflict-windsurf.md
func conflictPath(original, source string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	return base + ".conflict-" + source + ext
}

// matchesExclude reports whether relPath or its base name matches a pattern.
func matchesExclude(relPath string, patterns []string) bool {
	name := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}

func sameContent(a, b string) (bool, error) {
	ha, err := fileDigest(a)
	if err != nil {
		return false, err
	}
	hb, err := fileDigest(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func fileDigest(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("digest %s: %w", path, err)
	}
	return h.Sum64(), nil
}

// copyFile copies src to dst, preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
