package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/textutil"
)

// SkillFile is the descriptor file looked up in every skill directory.
const SkillFile = "SKILL.md"

// DirLoader reads <Root>/*/SKILL.md. The directory name, kebab-cased, is the
// entry id.
type DirLoader struct {
	Root   string
	Logger *zerolog.Logger
}

// Load scans Root. A missing Root is an empty catalog.
func (l DirLoader) Load(ctx context.Context) ([]*domain.Entry, error) {
	logger := log.Logger
	if l.Logger != nil {
		logger = *l.Logger
	}

	dirs, err := os.ReadDir(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Entry{}, nil
		}
		return nil, fmt.Errorf("cannot read catalog directory %s: %w", l.Root, err)
	}

	out := []*domain.Entry{}
	from := make(map[string]string)
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		path := filepath.Join(l.Root, d.Name(), SkillFile)
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}

		e, err := parseEntry(d.Name(), b)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("skipping skill with unreadable front matter")
			continue
		}
		if prev, dup := from[e.ID]; dup {
			return nil, domain.NewValidationError("catalog", "directories %q and %q both map to id %q", prev, d.Name(), e.ID)
		}
		from[e.ID] = d.Name()
		e.Path = filepath.ToSlash(filepath.Join(d.Name(), SkillFile))
		out = append(out, e)
	}

	SortByID(out)
	logger.Debug().Str("root", l.Root).Int("entries", len(out)).Msg("catalog loaded")
	return out, nil
}

// parseEntry builds an entry from a SKILL.md file found in directory dir.
func parseEntry(dir string, content []byte) (*domain.Entry, error) {
	id := textutil.Slug(dir)
	if id == "" {
		return nil, domain.NewValidationError("catalog", "directory %q has no usable id", dir)
	}

	header, body, _ := splitFrontmatter(string(content))
	fm, err := parseFrontmatter(header)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(fm.Name)
	if name == "" {
		name = id
	}
	desc := strings.TrimSpace(fm.Description)
	if desc == "" {
		desc = inferDescriptionFromBody(body)
	}
	tags := fm.Tags
	if len(tags) == 0 {
		tags = fm.Keywords
	}

	return &domain.Entry{
		ID:          id,
		Name:        name,
		Description: desc,
		Category:    strings.TrimSpace(fm.Category),
		Activation: domain.Activation{
			Triggers: append(fm.Triggers, fm.Activation.Triggers...),
			NotFor:   append(fm.NotFor, fm.Activation.NotFor...),
		},
		Tags: append([]domain.Tag{}, tags...),
	}, nil
}
