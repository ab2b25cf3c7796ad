package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
)

// FallbackContent replaces the body when the text cannot be encoded.
const FallbackContent = "Error encoding content."

// Renderer writes plain or lightly formatted markdown text to a PDF file
// using the core Arial font.
type Renderer struct {
	FontSize   float64
	LineHeight float64
}

func NewRenderer() *Renderer {
	return &Renderer{FontSize: 12, LineHeight: 5}
}

// Render writes text to path and creates the parent directory. It returns
// true when the fallback content was used.
func (r *Renderer) Render(path, title, text string) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, errors.New("pdf output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create output dir: %w", err)
	}

	doc := r.document(title, text)
	fallback := false
	if doc.Err() {
		fallback = true
		doc = r.document(title, FallbackContent)
	}
	if err := doc.OutputFileAndClose(path); err != nil {
		return fallback, fmt.Errorf("write pdf: %w", err)
	}
	return fallback, nil
}

func (r *Renderer) document(title, text string) *fpdf.Fpdf {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, true)
	doc.SetAutoPageBreak(true, 15)
	doc.AddPage()
	tr := doc.UnicodeTranslatorFromDescriptor("")

	if t := strings.TrimSpace(title); t != "" {
		doc.SetFont("Arial", "B", r.FontSize+4)
		doc.MultiCell(0, r.LineHeight+3, tr(Latin1(t)), "", "L", false)
		doc.Ln(r.LineHeight)
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			doc.SetFont("Arial", "B", r.FontSize+2)
			doc.MultiCell(0, r.LineHeight+2, tr(Latin1(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))), "", "L", false)
		case trimmed == "":
			doc.Ln(r.LineHeight)
		default:
			doc.SetFont("Arial", "", r.FontSize)
			doc.MultiCell(0, r.LineHeight, tr(Latin1(line)), "", "L", false)
		}
	}
	return doc
}

// Latin1 replaces every rune outside ISO-8859-1 with '?'.
func Latin1(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r > 0xff {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
