package catalog

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/textutil"
)

// frontMatter is the YAML header of a SKILL.md file. Triggers and not-for
// phrases may sit at the top level or under activation.
type frontMatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Triggers    []string `yaml:"triggers"`
	NotFor      []string `yaml:"not_for"`
	Activation  struct {
		Triggers []string `yaml:"triggers"`
		NotFor   []string `yaml:"notFor"`
	} `yaml:"activation"`
	Tags     tagList `yaml:"tags"`
	Keywords tagList `yaml:"keywords"`
}

// tagList accepts a comma separated string, a list of strings, or a list of
// {id, name} maps.
type tagList []domain.Tag

func (t *tagList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		for _, p := range strings.Split(n.Value, ",") {
			t.add(p, "")
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range n.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				t.add(item.Value, "")
			case yaml.MappingNode:
				var tag domain.Tag
				if err := item.Decode(&tag); err != nil {
					return err
				}
				t.add(tag.ID, tag.Name)
			default:
				return fmt.Errorf("line %d: unsupported tag", item.Line)
			}
		}
		return nil
	}
	return fmt.Errorf("line %d: tags must be a string or a list", n.Line)
}

func (t *tagList) add(id, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(id)
	}
	id = textutil.Slug(id)
	if id == "" {
		id = textutil.Slug(name)
	}
	if id == "" {
		return
	}
	for _, existing := range *t {
		if existing.ID == id {
			return
		}
	}
	*t = append(*t, domain.Tag{ID: id, Name: textutil.TitleCase(name)})
}

// splitFrontmatter separates a leading "---" delimited YAML block from the
// body. A file without a header yields an empty header.
func splitFrontmatter(content string) (header, body string, ok bool) {
	s := strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(s, "---") {
		return "", content, false
	}
	parts := strings.SplitN(s, "---", 3)
	if len(parts) < 3 {
		return "", content, false
	}
	return strings.TrimSpace(parts[1]), strings.TrimPrefix(parts[2], "\n"), true
}

func parseFrontmatter(header string) (frontMatter, error) {
	var fm frontMatter
	if header == "" {
		return fm, nil
	}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return frontMatter{}, err
	}
	return fm, nil
}

func inferDescriptionFromBody(body string) string {
	for _, ln := range strings.Split(body, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		return ln
	}
	return ""
}
