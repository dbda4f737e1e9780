package main

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorMuted = lipgloss.Color("#94a3b8")
	colorBlue  = lipgloss.Color("#3b82f6")
	colorGreen = lipgloss.Color("#22c55e")
	colorRed   = lipgloss.Color("#ef4444")
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// styles renders colored output for terminals and plain text otherwise.
type styles struct {
	enabled bool
	name    lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	bad     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	return styles{
		enabled: isTerminal(w),
		name:    lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		ok:      lipgloss.NewStyle().Foreground(colorGreen),
		bad:     lipgloss.NewStyle().Foreground(colorRed),
	}
}

func (s styles) render(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

// summary highlights the component name of a "name: k=v, ..." line.
func (s styles) summary(line string) string {
	name, rest, found := strings.Cut(line, ": ")
	if !found {
		return line
	}
	return s.render(s.name, name) + ": " + s.render(s.muted, rest)
}
