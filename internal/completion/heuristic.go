package completion

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/tick"
)

// Heuristic declares a task complete once the workspace has been idle for
// the configured threshold.
type Heuristic struct {
	activity ActivitySource
	clock    clockwork.Clock
	cfg      Config
	logger   *logging.Logger
}

// NewHeuristic creates an idle-based detector. A nil clock means the real
// clock and a nil logger discards output.
func NewHeuristic(activity ActivitySource, clock clockwork.Clock, cfg Config, logger *logging.Logger) *Heuristic {
	return &Heuristic{
		activity: activity,
		clock:    clockOrReal(clock),
		cfg:      cfg,
		logger:   loggerOrNop(logger),
	}
}

// Strategy returns StrategyHeuristic.
func (h *Heuristic) Strategy() Strategy {
	return StrategyHeuristic
}

// Wait resets the activity clock and polls until the workspace has been idle
// for IdleThreshold. Reaching the timeout is treated as completion with
// Outcome.Assumed set.
func (h *Heuristic) Wait(ctx context.Context, taskID string) (Outcome, error) {
	h.activity.ResetActivity()

	poller := tick.Poller{
		Clock:       h.clock,
		Interval:    h.cfg.PollInterval,
		Timeout:     h.cfg.Timeout,
		MinimumWait: h.cfg.MinimumWait,
		Operation:   "waiting for task " + taskID + " to go idle",
	}
	elapsed, err := poller.Poll(ctx, func(time.Duration) (bool, error) {
		return h.activity.IdleDuration() >= h.cfg.IdleThreshold, nil
	})
	outcome := Outcome{Strategy: StrategyHeuristic, Elapsed: elapsed}

	switch {
	case err == nil:
		h.logger.Debug("workspace idle", "task_id", taskID, "elapsed", elapsed.String())
		return outcome, nil
	case errors.IsCancelled(err):
		return outcome, err
	case errors.Is(err, errors.ErrTimeout):
		h.logger.Warn("assuming completion after timeout",
			"task_id", taskID,
			"timeout", h.cfg.Timeout.String(),
		)
		outcome.Assumed = true
		return outcome, nil
	default:
		return outcome, err
	}
}
