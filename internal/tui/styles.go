package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette
const (
	colorAccent  = lipgloss.Color("62")
	colorMuted   = lipgloss.Color("240")
	colorHelp    = lipgloss.Color("241")
	colorRetry   = lipgloss.Color("214")
	colorRunning = lipgloss.Color("yellow")
	colorOK      = lipgloss.Color("green")
	colorFailed  = lipgloss.Color("red")
)

var (
	StyleFocusedBorder   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent)
	StyleUnfocusedBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted)

	StyleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleSelected = lipgloss.NewStyle().Background(colorAccent).Foreground(lipgloss.Color("0"))
	StyleHelp     = lipgloss.NewStyle().Foreground(colorHelp)
)

// statusLook is how a request status is drawn in the list and counters.
type statusLook struct {
	icon  string
	style lipgloss.Style
}

var statusLooks = map[string]statusLook{
	"queued":    {"○", lipgloss.NewStyle().Foreground(colorMuted)},
	"running":   {"●", lipgloss.NewStyle().Foreground(colorRunning).Bold(true)},
	"retrying":  {"↻", lipgloss.NewStyle().Foreground(colorRetry)},
	"completed": {"✓", lipgloss.NewStyle().Foreground(colorOK).Bold(true)},
	"failed":    {"✗", lipgloss.NewStyle().Foreground(colorFailed).Bold(true)},
	"cancelled": {"-", lipgloss.NewStyle().Foreground(colorMuted)},
}

func lookFor(status string) statusLook {
	if l, ok := statusLooks[status]; ok {
		return l
	}
	return statusLooks["queued"]
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	l := lookFor(status)
	return l.style.Render(l.icon)
}

// statusText renders s in the style of status.
func statusText(status, s string) string {
	return lookFor(status).style.Render(s)
}
