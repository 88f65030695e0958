// Package render provides the ContextFS command surface's human-mode
// (non-JSON) output: styled section headers via lipgloss, and markdown
// rendering for cat'ing summary.md/manifest.md via glamour.
package render

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
)

// Header renders a bold section title, e.g. "PINS", "SUMMARY".
func Header(title string) string {
	return headerStyle.Render(title)
}

// Dim renders secondary/helper text (counts, hints).
func Dim(s string) string {
	return dimStyle.Render(s)
}

// Error renders a failure message for non-JSON CLI output.
func Error(s string) string {
	return errorStyle.Render(s)
}

// Markdown renders raw markdown (summary.md, manifest.md) for `ctx cat`
// human-mode output, falling back to the raw text if glamour can't build a
// renderer for the current terminal (e.g. when stdout isn't a TTY).
func Markdown(raw string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return raw
	}
	out, err := r.Render(raw)
	if err != nil {
		return raw
	}
	return out
}
