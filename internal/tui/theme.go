// Package tui renders workflow runs for the terminal: result tables, live
// progress lines, markdown output and "did you mean" suggestions.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#7C3AED")
	colorActive = lipgloss.Color("#06B6D4")
	colorOK     = lipgloss.Color("#10B981")
	colorWarn   = lipgloss.Color("#F59E0B")
	colorFail   = lipgloss.Color("#EF4444")
	colorMuted  = lipgloss.Color("#9CA3AF")

	// ColorBorder outlines tables.
	ColorBorder = lipgloss.Color("#374151")
)

var (
	// TitleStyle heads reports and progress lines.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	// SubtleStyle is for secondary detail such as durations.
	SubtleStyle = lipgloss.NewStyle().Foreground(colorMuted)

	// ErrorStyle boxes a node error under the results table.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(colorFail).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFail).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle       = lipgloss.NewStyle().Padding(0, 1)
)

// SuccessStyle and PartialStyle are exported for one-off marks outside
// run tables.
var (
	SuccessStyle = statusThemes["success"].style
	PartialStyle = statusThemes["partial"].style
)

type statusTheme struct {
	icon  string
	style lipgloss.Style
}

// statusThemes covers node statuses and the run statuses partial and
// success.
var statusThemes = map[string]statusTheme{
	"pending": {"○", lipgloss.NewStyle().Foreground(colorMuted)},
	"running": {"▶", lipgloss.NewStyle().Foreground(colorActive).Bold(true)},
	"success": {"✓", lipgloss.NewStyle().Foreground(colorOK)},
	"partial": {"◐", lipgloss.NewStyle().Foreground(colorWarn).Bold(true)},
	"failed":  {"✗", lipgloss.NewStyle().Foreground(colorFail).Bold(true)},
	"skipped": {"⊘", lipgloss.NewStyle().Foreground(colorMuted).Italic(true)},
}

// StatusStyle returns the style for a node or run status.
func StatusStyle(status string) lipgloss.Style {
	if th, ok := statusThemes[status]; ok {
		return th.style
	}
	return lipgloss.NewStyle()
}

// StatusIcon returns the glyph shown next to a status.
func StatusIcon(status string) string {
	if th, ok := statusThemes[status]; ok {
		return th.icon
	}
	return "○"
}

var kindColors = map[string]lipgloss.Color{
	"text":    lipgloss.Color("#E5E7EB"),
	"image":   lipgloss.Color("#EC4899"),
	"video":   lipgloss.Color("#F97316"),
	"llm":     colorAccent,
	"crop":    colorActive,
	"extract": lipgloss.Color("#3B82F6"),
}

// KindColor returns the color of a node kind.
func KindColor(kind string) lipgloss.Color {
	if c, ok := kindColors[kind]; ok {
		return c
	}
	return colorMuted
}
