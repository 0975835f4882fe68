// Package console renders redisbox status for humans: a live bubbletea card
// while a server runs and plain styled text everywhere else.
package console

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Theme holds the styles shared by every view.
type Theme struct {
	Color   bool
	accent  lipgloss.Color
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Key     lipgloss.Style
	Card    lipgloss.Style
}

// NewTheme returns the colour theme, or a bold/faint-only theme when color
// is false.
func NewTheme(color bool) Theme {
	if !color {
		return Theme{
			Title:   lipgloss.NewStyle().Bold(true),
			Label:   lipgloss.NewStyle().Faint(true),
			Value:   lipgloss.NewStyle(),
			Muted:   lipgloss.NewStyle().Faint(true),
			Success: lipgloss.NewStyle().Bold(true),
			Warning: lipgloss.NewStyle().Bold(true),
			Key:     lipgloss.NewStyle().Bold(true),
			Card:    lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 2),
		}
	}

	accent := lipgloss.Color("#d82c20")
	muted := lipgloss.Color("#9fb3c8")
	return Theme{
		Color:   true,
		accent:  accent,
		Title:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		Label:   lipgloss.NewStyle().Foreground(muted),
		Value:   lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(muted).Faint(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#3ddc84")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb020")).Bold(true),
		Key:     lipgloss.NewStyle().Foreground(accent).Bold(true),
		Card:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 2),
	}
}

// SupportsColor reports whether w is a terminal that accepts colour.
// NO_COLOR disables colour unconditionally.
func SupportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal(w)
}

// IsTerminal reports whether w is backed by a terminal.
func IsTerminal(w any) bool {
	type fd interface {
		Fd() uintptr
	}
	f, ok := w.(fd)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
