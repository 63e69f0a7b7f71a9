// Package delegate hands a task to the external executor.
//
// A delegate only starts the work. Whether the work finishes is decided
// separately by the completion detector, so Dispatch returns as soon as the
// executor has accepted the task.
package delegate

import (
	"context"

	"github.com/Iron-Ham/autopilot/internal/activity"
	"github.com/Iron-Ham/autopilot/internal/plan"
)

// Dispatch is everything an executor needs to carry out one task.
type Dispatch struct {
	Task plan.Task
	// Prompt is the rendered instruction text.
	Prompt string
	// SentinelPath is the lease file the executor writes "completed" into
	// when it is done.
	SentinelPath string
	// RunID identifies the orchestrator run.
	RunID string
}

// Delegate starts a task on an executor.
type Delegate interface {
	Dispatch(ctx context.Context, d Dispatch) error
}

// ActivitySink receives process lifecycle events.
type ActivitySink interface {
	Submit(e activity.Event) bool
}

// Env returns the environment variables describing d to a child process.
func (d Dispatch) Env() []string {
	return []string{
		"AUTOPILOT_TASK_ID=" + d.Task.ID,
		"AUTOPILOT_SENTINEL=" + d.SentinelPath,
		"AUTOPILOT_RUN_ID=" + d.RunID,
	}
}
