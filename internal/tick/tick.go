// Package tick provides the clock-driven wait loops shared by every suspension
// point of an autopilot run: waiting for a lease to clear, waiting for a task
// to complete, and the settle delay between iterations.
//
// All waits take an injectable clockwork.Clock so tests can advance time
// without sleeping, and all of them re-check their context on every tick.
package tick

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

// Poller repeatedly evaluates a condition on a fixed interval.
type Poller struct {
	// Clock drives the loop. Nil means the real clock.
	Clock clockwork.Clock
	// Interval is the pause between checks.
	Interval time.Duration
	// Timeout bounds the whole wait. Zero means no bound.
	Timeout time.Duration
	// MinimumWait defers the first check until this much time has elapsed.
	MinimumWait time.Duration
	// Operation names the wait in cancellation errors.
	Operation string
}

// Check reports whether the awaited condition holds. elapsed is measured from
// the start of the Poll call.
type Check func(elapsed time.Duration) (done bool, err error)

// Poll calls check every Interval until it reports done or fails. It returns
// the elapsed time together with:
//   - nil when check reported done
//   - the error from check, unchanged
//   - an error matching errors.ErrTimeout once Timeout has elapsed
//   - a *errors.CancelledError when ctx ends first
//
// The condition is evaluated once more at the timeout boundary, so a
// condition that becomes true exactly at the deadline still succeeds.
func (p Poller) Poll(ctx context.Context, check Check) (time.Duration, error) {
	clock := p.clock()
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	start := clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return clock.Since(start), errors.NewCancelledError(p.operation(), err)
		}

		elapsed := clock.Since(start)
		if elapsed >= p.MinimumWait {
			done, err := check(elapsed)
			if err != nil {
				return elapsed, err
			}
			if done {
				return elapsed, nil
			}
		}
		if p.Timeout > 0 && elapsed >= p.Timeout {
			return elapsed, errors.NewTimeoutError(p.operation(), p.Timeout)
		}

		wait := interval
		if p.Timeout > 0 && elapsed+wait > p.Timeout {
			wait = p.Timeout - elapsed
		}
		if err := Sleep(ctx, clock, wait, p.operation()); err != nil {
			return clock.Since(start), err
		}
	}
}

func (p Poller) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

func (p Poller) operation() string {
	if p.Operation == "" {
		return "polling"
	}
	return p.Operation
}

// Sleep pauses for d on clock, returning a *errors.CancelledError if ctx ends
// first. A non-positive d only checks ctx.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration, operation string) error {
	if operation == "" {
		operation = "sleeping"
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError(operation, err)
	}
	if d <= 0 {
		return nil
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.NewCancelledError(operation, ctx.Err())
	case <-timer.Chan():
		return nil
	}
}
