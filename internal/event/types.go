package event

import "time"

// Event types published by the orchestrator.
const (
	TypeTaskDispatched = "task.dispatched"
	TypeTaskCompleted  = "task.completed"
	TypeTaskFailed     = "task.failed"
	TypeTaskSkipped    = "task.skipped"
	TypeRunState       = "run.state"
	TypeLeaseForced    = "lease.forced"
)

// Event is the interface that all events implement.
type Event interface {
	// EventType returns a "category.action" identifier such as "task.failed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent stamps an event with at, or the wall clock when at is zero.
// The orchestrator passes its injected clock so tests see stable times.
func newBaseEvent(eventType string, at time.Time) baseEvent {
	if at.IsZero() {
		at = time.Now()
	}
	return baseEvent{eventType: eventType, timestamp: at}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskDispatchedEvent is emitted once a task has been handed to the delegate.
type TaskDispatchedEvent struct {
	baseEvent
	TaskID    string
	Phase     string
	Action    string
	Iteration int
}

// NewTaskDispatchedEvent creates a TaskDispatchedEvent.
func NewTaskDispatchedEvent(at time.Time, taskID, phase, action string, iteration int) TaskDispatchedEvent {
	return TaskDispatchedEvent{
		baseEvent: newBaseEvent(TypeTaskDispatched, at),
		TaskID:    taskID,
		Phase:     phase,
		Action:    action,
		Iteration: iteration,
	}
}

// TaskCompletedEvent is emitted when a dispatched task is recorded Done.
// Assumed is set when the heuristic gave up waiting and treated the task as
// finished.
type TaskCompletedEvent struct {
	baseEvent
	TaskID   string
	Strategy string
	Elapsed  time.Duration
	Assumed  bool
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(at time.Time, taskID, strategy string, elapsed time.Duration, assumed bool) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted, at),
		TaskID:    taskID,
		Strategy:  strategy,
		Elapsed:   elapsed,
		Assumed:   assumed,
	}
}

// TaskFailedEvent is emitted when a task is recorded Failed.
type TaskFailedEvent struct {
	baseEvent
	TaskID  string
	Reason  string
	Timeout bool
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(at time.Time, taskID, reason string, timeout bool) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent: newBaseEvent(TypeTaskFailed, at),
		TaskID:    taskID,
		Reason:    reason,
		Timeout:   timeout,
	}
}

// TaskSkippedEvent is emitted when the verifier finds a task already done.
type TaskSkippedEvent struct {
	baseEvent
	TaskID string
	Reason string
}

// NewTaskSkippedEvent creates a TaskSkippedEvent.
func NewTaskSkippedEvent(at time.Time, taskID, reason string) TaskSkippedEvent {
	return TaskSkippedEvent{
		baseEvent: newBaseEvent(TypeTaskSkipped, at),
		TaskID:    taskID,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// RunStateEvent is emitted on every orchestrator state transition.
type RunStateEvent struct {
	baseEvent
	RunID     string
	From      string
	To        string
	TaskID    string // task in flight, if any
	Iteration int
}

// NewRunStateEvent creates a RunStateEvent.
func NewRunStateEvent(at time.Time, runID, from, to, taskID string, iteration int) RunStateEvent {
	return RunStateEvent{
		baseEvent: newBaseEvent(TypeRunState, at),
		RunID:     runID,
		From:      from,
		To:        to,
		TaskID:    taskID,
		Iteration: iteration,
	}
}

// LeaseForcedEvent is emitted when a lease is cleared without the executor
// releasing it, either by operator confirmation at startup or after the
// steady-state wait timed out.
type LeaseForcedEvent struct {
	baseEvent
	TaskID    string
	Confirmed bool // true when an operator approved the clear
}

// NewLeaseForcedEvent creates a LeaseForcedEvent.
func NewLeaseForcedEvent(at time.Time, taskID string, confirmed bool) LeaseForcedEvent {
	return LeaseForcedEvent{
		baseEvent: newBaseEvent(TypeLeaseForced, at),
		TaskID:    taskID,
		Confirmed: confirmed,
	}
}
