package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/panemark/panemark/internal/overlay"
)

// Tokyo Night, dark and light variants.
var darkColors = struct {
	Text, TextDim, Accent, Green, Yellow, Red lipgloss.Color
}{
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
}

var lightColors = struct {
	Text, TextDim, Accent, Green, Yellow, Red lipgloss.Color
}{
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
}

// tableStyles colors the panes/events tables. The zero value renders
// plain text, which is what non-TTY output gets.
type tableStyles struct {
	Header   lipgloss.Style
	Dim      lipgloss.Style
	Stopped  lipgloss.Style
	Notified lipgloss.Style
	Waiting  lipgloss.Style
	Dead     lipgloss.Style
}

func newTableStyles(theme string, colored bool) tableStyles {
	if !colored {
		return tableStyles{}
	}
	colors := darkColors
	if theme == "light" {
		colors = lightColors
	}
	return tableStyles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(colors.Accent),
		Dim:      lipgloss.NewStyle().Foreground(colors.TextDim),
		Stopped:  lipgloss.NewStyle().Foreground(colors.Green),
		Notified: lipgloss.NewStyle().Foreground(colors.Yellow),
		Waiting:  lipgloss.NewStyle().Foreground(colors.Red),
		Dead:     lipgloss.NewStyle().Foreground(colors.Red).Strikethrough(true),
	}
}

// forStatus picks the style for a marker status.
func (s tableStyles) forStatus(status string) lipgloss.Style {
	switch overlay.Status(status) {
	case overlay.StatusStopped:
		return s.Stopped
	case overlay.StatusNotified:
		return s.Notified
	case overlay.StatusWaitingPermission:
		return s.Waiting
	default:
		return s.Dim
	}
}
