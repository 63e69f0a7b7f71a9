// Package progress records the durable per-task status of an autopilot run.
//
// The progress record is the orchestrator's source of truth between
// iterations: it is re-read before every scheduling decision and never cached.
// Two backends implement [Store]: a human-editable Markdown table (the
// default) and a SQLite database.
package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/logging"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses.
const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusDone       Status = "Done"
	StatusFailed     Status = "Failed"
	StatusSkipped    Status = "Skipped"
)

// Statuses returns every status in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusDone, StatusFailed, StatusSkipped}
}

// ParseStatus maps a status spelling to a Status. Matching ignores case,
// spaces, hyphens and underscores, so "in progress" and "IN_PROGRESS" both
// parse as InProgress.
func ParseStatus(s string) (Status, bool) {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))

	for _, st := range Statuses() {
		if strings.ToLower(string(st)) == norm {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether s ends a task's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusSkipped
}

// IsComplete reports whether the scheduler should pass over a task in this
// status. Failed tasks are not complete; they are retried.
func (s Status) IsComplete() bool {
	return s == StatusDone || s == StatusSkipped
}

// ValidTransition reports whether a task may move from one status to
// another. A task with no record is Pending. Terminal statuses only return
// to Pending, which is how an explicit reset is recorded.
func ValidTransition(from, to Status) bool {
	if from == "" {
		from = StatusPending
	}
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusInProgress || to == StatusDone || to == StatusSkipped
	case StatusInProgress:
		return to == StatusDone || to == StatusFailed || to == StatusSkipped || to == StatusPending
	case StatusDone, StatusFailed, StatusSkipped:
		return to == StatusPending
	default:
		return false
	}
}

// Entry is the recorded state of one task.
type Entry struct {
	ID      string
	Status  Status
	Updated time.Time
	Notes   string
}

// Store is durable progress storage. Read always reflects the current
// durable state.
type Store interface {
	// Read returns every recorded entry keyed by task id. A missing
	// document yields an empty map.
	Read() (map[string]Entry, error)
	// Update records status and notes for id, stamping the update time.
	Update(id string, status Status, notes string) error
	// Summarize counts recorded entries by status.
	Summarize() (Summary, error)
	// Reset forces id back to Pending and clears its notes.
	Reset(id string) error
}

// Summary counts tasks by status.
type Summary struct {
	Pending    int
	InProgress int
	Done       int
	Failed     int
	Skipped    int
}

// Add counts one task in status s. Unknown statuses count as pending.
func (s *Summary) Add(st Status) {
	switch st {
	case StatusInProgress:
		s.InProgress++
	case StatusDone:
		s.Done++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	default:
		s.Pending++
	}
}

// Total returns the number of tasks counted.
func (s Summary) Total() int {
	return s.Pending + s.InProgress + s.Done + s.Failed + s.Skipped
}

// String renders non-zero counts, e.g. "3 done · 1 failed · 2 pending".
func (s Summary) String() string {
	parts := make([]string, 0, 5)
	for _, c := range []struct {
		n     int
		label string
	}{
		{s.Done, "done"},
		{s.InProgress, "in progress"},
		{s.Failed, "failed"},
		{s.Skipped, "skipped"},
		{s.Pending, "pending"},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	if len(parts) == 0 {
		return "no tasks"
	}
	return strings.Join(parts, " · ")
}

// Summarize counts entries by status.
func Summarize(entries map[string]Entry) Summary {
	var s Summary
	for _, e := range entries {
		s.Add(e.Status)
	}
	return s
}

// SummarizeIDs counts the given task ids by their recorded status. Ids with
// no entry count as pending, so the result covers the whole plan.
func SummarizeIDs(entries map[string]Entry, ids []string) Summary {
	var s Summary
	for _, id := range ids {
		e, ok := entries[id]
		if !ok {
			s.Add(StatusPending)
			continue
		}
		s.Add(e.Status)
	}
	return s
}

// Option configures a Store.
type Option func(*options)

type options struct {
	clock  clockwork.Clock
	logger *logging.Logger
}

func defaultOptions() options {
	return options{clock: clockwork.NewRealClock(), logger: logging.NopLogger()}
}

// WithClock sets the clock used to stamp updates.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used for diagnostics such as skipped rows.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

var (
	_ Store = (*MarkdownStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
