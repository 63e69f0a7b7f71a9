package completion

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/tick"
)

// Signal waits for the executor to write "completed" into the task's lease.
type Signal struct {
	leases LeaseReader
	clock  clockwork.Clock
	cfg    Config
	logger *logging.Logger
}

// NewSignal creates a signal detector. A nil clock means the real clock and
// a nil logger discards output.
func NewSignal(leases LeaseReader, clock clockwork.Clock, cfg Config, logger *logging.Logger) *Signal {
	return &Signal{
		leases: leases,
		clock:  clockOrReal(clock),
		cfg:    cfg,
		logger: loggerOrNop(logger),
	}
}

// Strategy returns StrategySignal.
func (s *Signal) Strategy() Strategy {
	return StrategySignal
}

// Wait polls the lease for taskID until it reads completed. On timeout it
// returns a *errors.LeaseTimeoutError and leaves the lease as it is; the
// caller owns releasing it.
func (s *Signal) Wait(ctx context.Context, taskID string) (Outcome, error) {
	poller := tick.Poller{
		Clock:       s.clock,
		Interval:    s.cfg.PollInterval,
		Timeout:     s.cfg.Timeout,
		MinimumWait: s.cfg.MinimumWait,
		Operation:   "waiting for task " + taskID + " to signal completion",
	}
	elapsed, err := poller.Poll(ctx, func(time.Duration) (bool, error) {
		return s.leases.Status(taskID) == lease.StateCompleted, nil
	})
	outcome := Outcome{Strategy: StrategySignal, Elapsed: elapsed}

	switch {
	case err == nil:
		s.logger.Debug("completion signalled", "task_id", taskID, "elapsed", elapsed.String())
		return outcome, nil
	case errors.IsCancelled(err):
		return outcome, err
	case errors.Is(err, errors.ErrTimeout):
		return outcome, errors.NewLeaseTimeoutError(taskID, s.cfg.Timeout)
	default:
		return outcome, err
	}
}
