package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/progress"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 100

// Row is one task line of the status table.
type Row struct {
	Task  plan.Task
	Entry progress.Entry
	Lease lease.State
}

// BuildRows joins plan, progress and leases in plan order. Tasks without a
// progress entry are shown as pending.
func BuildRows(tasks []plan.Task, entries map[string]progress.Entry, leases []lease.Lease) []Row {
	states := make(map[string]lease.State, len(leases))
	for _, l := range leases {
		states[l.ID] = l.State
	}

	rows := make([]Row, 0, len(tasks))
	for _, t := range tasks {
		entry, ok := entries[t.ID]
		if !ok || entry.Status == "" {
			entry = progress.Entry{ID: t.ID, Status: progress.StatusPending}
		}
		st, ok := states[t.ID]
		if !ok {
			st = lease.StateNone
		}
		rows = append(rows, Row{Task: t, Entry: entry, Lease: st})
	}
	return rows
}

// Truncate shortens s to width terminal columns, keeping ANSI styling
// intact and marking the cut with an ellipsis.
func Truncate(s string, width int) string {
	if width <= 1 {
		return "…"
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// RenderStatus draws the status table for rows within width columns.
func RenderStatus(title string, rows []Row, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}

	ids := make([]string, len(rows))
	summary := progress.Summary{}
	idWidth := len("ID")
	for i, r := range rows {
		ids[i] = r.Task.ID
		summary.Add(r.Entry.Status)
		idWidth = max(idWidth, lipgloss.Width(r.Task.ID))
	}
	idWidth = min(idWidth, 16)

	const (
		statusWidth  = 10
		leaseWidth   = 10
		updatedWidth = 16
		gaps         = 4 * 2
	)
	detailWidth := max(width-idWidth-statusWidth-leaseWidth-updatedWidth-gaps, 10)

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(summaryStyle.Render(summary.String()))
	b.WriteString("\n")

	header := strings.Join([]string{
		pad("ID", idWidth),
		pad("STATUS", statusWidth),
		pad("LEASE", leaseWidth),
		pad("UPDATED", updatedWidth),
		"TASK",
	}, "  ")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	for _, r := range rows {
		updated := "-"
		if !r.Entry.Updated.IsZero() {
			updated = r.Entry.Updated.Local().Format("2006-01-02 15:04")
		}
		leaseText := "-"
		if r.Lease != lease.StateNone {
			leaseText = string(r.Lease)
		}
		detail := r.Task.Title()
		if r.Entry.Notes != "" {
			detail += mutedStyle.Render(" · " + r.Entry.Notes)
		}

		line := strings.Join([]string{
			pad(Truncate(r.Task.ID, idWidth), idWidth),
			pad(statusStyle(r.Entry.Status).Render(string(r.Entry.Status)), statusWidth),
			pad(leaseStyle(r.Lease).Render(leaseText), leaseWidth),
			pad(mutedStyle.Render(updated), updatedWidth),
			Truncate(detail, detailWidth),
		}, "  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderEvent formats a bus event as a single log line for live output.
// Events not worth showing render as "".
func RenderEvent(e event.Event, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}

	var line string
	switch ev := e.(type) {
	case event.TaskDispatchedEvent:
		line = fmt.Sprintf("%s %s dispatched %s",
			statusStyle(progress.StatusInProgress).Render("▶"), ev.TaskID,
			mutedStyle.Render(fmt.Sprintf("(%s, iteration %d)", ev.Action, ev.Iteration)))
	case event.TaskCompletedEvent:
		detail := "in " + ev.Elapsed.Round(time.Second).String()
		if ev.Assumed {
			detail += ", assumed after timeout"
		}
		line = fmt.Sprintf("%s %s done %s",
			statusStyle(progress.StatusDone).Render("✓"), ev.TaskID, mutedStyle.Render(detail))
	case event.TaskFailedEvent:
		line = fmt.Sprintf("%s %s failed: %s",
			errorStyle.Render("✗"), ev.TaskID, ev.Reason)
	case event.TaskSkippedEvent:
		line = fmt.Sprintf("%s %s skipped %s",
			statusStyle(progress.StatusSkipped).Render("↷"), ev.TaskID, mutedStyle.Render(ev.Reason))
	case event.LeaseForcedEvent:
		line = fmt.Sprintf("%s lease for %s cleared", warningStyle.Render("!"), ev.TaskID)
	case event.RunStateEvent:
		if !orchestrator.State(ev.To).IsTerminal() {
			return ""
		}
		line = fmt.Sprintf("%s run %s after %d iterations",
			titleStyle.Render("■"), strings.ToLower(ev.To), ev.Iteration)
	default:
		return ""
	}

	stamp := mutedStyle.Render(e.Timestamp().Local().Format("15:04:05"))
	return Truncate(stamp+" "+line, width)
}

func progressStatus(s string) progress.Status {
	st, ok := progress.ParseStatus(s)
	if !ok {
		return progress.StatusPending
	}
	return st
}
