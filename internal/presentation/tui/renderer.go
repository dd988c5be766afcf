package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Renderer formats assistant replies for the terminal.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer returns a markdown renderer wrapping at width columns (0 keeps glamour's default).
// style names a glamour standard style such as "dark" or "light"; empty detects
// it from the terminal background.
func NewRenderer(style string, width int) (*Renderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if style != "" {
		opts = []glamour.TermRendererOption{glamour.WithStandardStyle(style)}
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	return &Renderer{md: md}, nil
}

// Plain returns a renderer that prints text unchanged, for pipes and files.
func Plain() *Renderer {
	return &Renderer{}
}

// ForFile picks a markdown renderer when f is a terminal and Plain otherwise.
func ForFile(f *os.File) *Renderer {
	if !IsTerminal(f) {
		return Plain()
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		width = 0
	}
	r, err := NewRenderer("", width)
	if err != nil {
		return Plain()
	}
	return r
}

// Render formats markdown. Text that fails to render is returned as is.
func (r *Renderer) Render(markdown string) string {
	if r.md == nil {
		return markdown
	}
	out, err := r.md.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
