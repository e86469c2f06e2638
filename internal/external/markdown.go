package external

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// listLink is one "- [name](url) - description" item of a README list.
type listLink struct {
	Section     string
	Name        string
	URL         string
	Description string
}

var markdown = goldmark.New()

// parseListLinks returns every list item whose first inline element is a
// link, with the text following the link as its description. Section is the
// closest preceding level-2 heading.
func parseListLinks(src []byte) []listLink {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var (
		out     []listLink
		section string
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			if v.Level == 2 {
				section = strings.TrimSpace(inlineText(v, src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if item, ok := itemLink(v, src); ok {
				item.Section = section
				out = append(out, item)
			}
		}
		return ast.WalkContinue, nil
	})
	return out
}

func itemLink(li *ast.ListItem, src []byte) (listLink, bool) {
	block := li.FirstChild()
	if block == nil {
		return listLink{}, false
	}
	if _, ok := block.(*ast.TextBlock); !ok {
		if _, ok := block.(*ast.Paragraph); !ok {
			return listLink{}, false
		}
	}

	first := block.FirstChild()
	for first != nil && isBlank(first, src) {
		first = first.NextSibling()
	}
	link, ok := first.(*ast.Link)
	if !ok {
		return listLink{}, false
	}

	var desc bytes.Buffer
	for n := link.NextSibling(); n != nil; n = n.NextSibling() {
		desc.WriteString(inlineText(n, src))
	}
	d := strings.TrimSpace(desc.String())
	d = strings.TrimLeft(d, "-–—: ")
	return listLink{
		Name:        strings.TrimSpace(inlineText(link, src)),
		URL:         string(link.Destination),
		Description: strings.Join(strings.Fields(d), " "),
	}, true
}

func isBlank(n ast.Node, src []byte) bool {
	t, ok := n.(*ast.Text)
	return ok && len(bytes.TrimSpace(t.Segment.Value(src))) == 0
}

// inlineText concatenates the literal text below n.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		switch v := n.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
			return
		case *ast.String:
			b.Write(v.Value)
			return
		case *ast.AutoLink:
			b.Write(v.URL(src))
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
