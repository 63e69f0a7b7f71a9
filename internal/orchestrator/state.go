package orchestrator

import (
	"time"

	"github.com/Iron-Ham/autopilot/internal/progress"
)

// State is the orchestrator's position in its run loop.
type State string

// Run loop states. Paused, Cancelled, Finished and Failed end a run.
const (
	StateIdle               State = "Idle"
	StateScheduling         State = "Scheduling"
	StateSkipping           State = "Skipping"
	StateDispatching        State = "Dispatching"
	StateAwaitingCompletion State = "AwaitingCompletion"
	StateRecording          State = "Recording"
	StatePaused             State = "Paused"
	StateCancelled          State = "Cancelled"
	StateFinished           State = "Finished"
	StateFailed             State = "Failed"
)

// IsTerminal reports whether a run in state s has ended.
func (s State) IsTerminal() bool {
	switch s {
	case StatePaused, StateCancelled, StateFinished, StateFailed:
		return true
	default:
		return false
	}
}

// Status is a snapshot of the orchestrator for display.
type Status struct {
	RunID         string
	State         State
	Running       bool
	CurrentTask   string
	Iteration     int
	MaxIterations int
	// Summary counts plan tasks by recorded status as of the last
	// scheduling pass.
	Summary   progress.Summary
	StartedAt time.Time
	LastError string
}

// Result describes a finished run.
type Result struct {
	RunID      string
	State      State
	Iterations int
	// Completed lists tasks recorded Done after dispatch, in order.
	Completed []string
	// Skipped lists tasks recorded Done because their effects were
	// already present.
	Skipped []string
	Failed  []string
	Summary progress.Summary
	// Cancelled is set when the run ended because its context was
	// cancelled or Stop was called.
	Cancelled bool
	Duration  time.Duration
}
