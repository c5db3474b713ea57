package export

import (
	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// descriptionMarkdown parses chart descriptions for both output formats.
var descriptionMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
)

// markdownWriter draws a chart description onto the current PDF page.
// Only the block and inline kinds a short description uses are handled;
// anything else falls through to its text children.
type markdownWriter struct {
	pdf       *fpdf.Fpdf
	source    []byte
	tr        func(string) string
	font      string
	size      float64
	lineH     float64
	left      float64
	bold      bool
	italic    bool
	listLevel int
}

func newMarkdownWriter(pdf *fpdf.Fpdf, tr func(string) string, left float64) *markdownWriter {
	return &markdownWriter{pdf: pdf, tr: tr, font: "Helvetica", size: 9, lineH: 4.5, left: left}
}

// write renders source. It never fails; fpdf keeps its own error state.
func (w *markdownWriter) write(source string) {
	w.source = []byte(source)
	doc := descriptionMarkdown.Parser().Parse(text.NewReader(w.source))
	w.updateFont()
	_ = ast.Walk(doc, w.walk)
	w.bold, w.italic = false, false
	w.updateFont()
}

func (w *markdownWriter) updateFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont(w.font, style, w.size)
}

func (w *markdownWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			w.pdf.SetFont(w.font, "B", w.size+2)
		} else {
			w.pdf.Ln(w.lineH + 1)
			w.updateFont()
		}
	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(w.lineH + 1)
		}
	case *ast.Text:
		if entering {
			w.pdf.Write(w.lineH, w.tr(string(node.Segment.Value(w.source))))
			if node.SoftLineBreak() || node.HardLineBreak() {
				w.pdf.Write(w.lineH, " ")
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.updateFont()
	case *ast.CodeSpan:
		if entering {
			w.pdf.SetFont("Courier", "", w.size)
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					w.pdf.Write(w.lineH, w.tr(string(t.Segment.Value(w.source))))
				}
			}
			w.updateFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			w.codeBlock(n.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			w.listLevel++
		} else {
			w.listLevel--
			if w.listLevel == 0 {
				w.pdf.Ln(1)
			}
		}
	case *ast.ListItem:
		if entering {
			w.pdf.SetX(w.left + float64(w.listLevel)*4)
			w.pdf.Write(w.lineH, "- ")
		}
	case *ast.TextBlock:
		if !entering {
			w.pdf.Ln(w.lineH)
		}
	case *ast.ThematicBreak:
		if entering {
			pageW, _ := w.pdf.GetPageSize()
			_, _, right, _ := w.pdf.GetMargins()
			y := w.pdf.GetY() + 1
			w.pdf.Line(w.left, y, pageW-right, y)
			w.pdf.Ln(2)
		}
	}
	return ast.WalkContinue, nil
}

func (w *markdownWriter) codeBlock(lines *text.Segments) {
	w.pdf.SetFont("Courier", "", w.size-1)
	w.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		w.pdf.MultiCell(0, w.lineH, w.tr(string(line.Value(w.source))), "", "L", true)
	}
	w.pdf.SetFillColor(255, 255, 255)
	w.updateFont()
	w.pdf.Ln(1)
}
