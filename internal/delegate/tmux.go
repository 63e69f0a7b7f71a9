package delegate

import (
	"context"

	"github.com/Iron-Ham/autopilot/internal/activity"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/tmux"
)

// Tmux types the prompt into an executor already running in a tmux session.
type Tmux struct {
	client   tmux.Client
	activity ActivitySink
	logger   *logging.Logger
}

// NewTmux returns a delegate for session on socket. An empty socket selects
// tmux's default server. run may be nil to invoke the tmux binary.
func NewTmux(socket, session string, run tmux.Runner, sink ActivitySink, logger *logging.Logger) *Tmux {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Tmux{
		client:   tmux.Client{Socket: socket, Session: session, Run: run},
		activity: sink,
		logger:   logger,
	}
}

// Dispatch sends d.Prompt to the session.
func (t *Tmux) Dispatch(ctx context.Context, d Dispatch) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("dispatching task "+d.Task.ID, err)
	}
	if err := t.client.HasSession(ctx); err != nil {
		return errors.NewTaskError("tmux session unavailable", err).WithTaskID(d.Task.ID).WithPhase(d.Task.Phase)
	}
	if err := t.client.SendText(ctx, d.Prompt); err != nil {
		return errors.NewTaskError("failed to send prompt", err).WithTaskID(d.Task.ID).WithPhase(d.Task.Phase)
	}
	if t.activity != nil {
		t.activity.Submit(activity.Event{Kind: activity.FocusChanged})
	}
	t.logger.Info("prompt sent to tmux session", "task_id", d.Task.ID, "session", t.client.Session)
	return nil
}
