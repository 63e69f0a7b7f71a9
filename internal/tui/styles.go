package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/progress"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // violet
	doneColor    = lipgloss.Color("#10B981") // green
	activeColor  = lipgloss.Color("#60A5FA") // blue
	warningColor = lipgloss.Color("#F59E0B") // amber
	errorColor   = lipgloss.Color("#F87171") // red
	mutedColor   = lipgloss.Color("#9CA3AF") // gray
	borderColor  = lipgloss.Color("#6B7280")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(mutedColor)
	keyStyle     = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)

	dialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(warningColor).
			Padding(0, 1)

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(borderColor)
)

// statusStyle colours a progress status.
func statusStyle(s progress.Status) lipgloss.Style {
	switch s {
	case progress.StatusDone:
		return lipgloss.NewStyle().Foreground(doneColor)
	case progress.StatusInProgress:
		return lipgloss.NewStyle().Foreground(activeColor).Bold(true)
	case progress.StatusFailed:
		return errorStyle
	case progress.StatusSkipped:
		return lipgloss.NewStyle().Foreground(primaryColor)
	default:
		return mutedStyle
	}
}

// leaseStyle colours a lease state; only an in-progress lease stands out.
func leaseStyle(s lease.State) lipgloss.Style {
	if s == lease.StateInProgress {
		return warningStyle
	}
	return mutedStyle
}
