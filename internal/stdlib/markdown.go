package stdlib

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownInstance is initialized once and reused. The parser configuration
// never changes and the goldmark parser is safe to share; per-call state
// lives in the reader passed to Parse.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New()
	})
	return markdownInstance
}

// MarkdownLib converts markdown to a minimal HTML subset and to plain text.
type MarkdownLib struct{}

// ToHTML renders markdown (headers, emphasis, code spans/blocks,
// links/images, lists, blockquotes, horizontal rules, paragraphs) as HTML.
func (m *MarkdownLib) ToHTML(in string) (string, error) {
	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(in), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

var blankLines = regexp.MustCompile(`\n{2,}`)

// Strip reduces markdown to its literal text content: formatting markers,
// link targets, and image references are dropped; code block contents are
// kept verbatim.
func (m *MarkdownLib) Strip(in string) string {
	source := []byte(in)
	doc := getMarkdown().Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.Kind() {
			case ast.KindParagraph, ast.KindHeading, ast.KindListItem, ast.KindBlockquote:
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.Image:
			// Alt text is carried by child text nodes; the target is dropped.
		case *ast.FencedCodeBlock:
			writeCodeLines(&sb, t, source)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeCodeLines(&sb, t, source)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	out := blankLines.ReplaceAllString(sb.String(), "\n")
	return strings.TrimSpace(out)
}

// writeCodeLines copies a code block's raw lines into the output.
func writeCodeLines(sb *strings.Builder, node interface{ Lines() *text.Segments }, source []byte) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
}
