// Package completion decides when a delegated task has finished.
//
// The executor gives no direct completion signal the orchestrator can
// observe, so two strategies infer it. [Signal] waits for the executor to
// write "completed" into the task's lease file. [Heuristic] waits for the
// workspace to go quiet. Both share [Config] and satisfy [Detector], so the
// orchestrator selects one by configuration and treats them alike.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/logging"
)

// Strategy names a completion detection strategy.
type Strategy string

const (
	// StrategySignal waits for the executor's explicit completion signal.
	StrategySignal Strategy = "signal"

	// StrategyHeuristic waits for workspace activity to stop.
	StrategyHeuristic Strategy = "heuristic"
)

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategySignal:
		return StrategySignal, nil
	case StrategyHeuristic:
		return StrategyHeuristic, nil
	default:
		return "", errors.NewValidationError(
			fmt.Sprintf("unknown completion strategy (valid: %s, %s)", StrategySignal, StrategyHeuristic),
		).WithField("completion.strategy").WithValue(s)
	}
}

// Outcome describes how a wait ended.
type Outcome struct {
	Strategy Strategy
	// Elapsed is the time spent waiting.
	Elapsed time.Duration
	// Assumed is set when the heuristic strategy gave up waiting and
	// optimistically declared the task complete.
	Assumed bool
}

// Detector blocks until a dispatched task is judged complete.
type Detector interface {
	Strategy() Strategy

	// Wait blocks until taskID is judged complete, the strategy's timeout
	// handling decides otherwise, or ctx ends. Cancellation yields a
	// *errors.CancelledError.
	Wait(ctx context.Context, taskID string) (Outcome, error)
}

// LeaseReader reads a task's lease state.
type LeaseReader interface {
	Status(id string) lease.State
}

// ActivitySource reports workspace activity.
type ActivitySource interface {
	ResetActivity()
	IdleDuration() time.Duration
}

// Config holds the timing shared by both strategies.
type Config struct {
	// PollInterval is the pause between checks.
	PollInterval time.Duration

	// Timeout bounds the whole wait.
	Timeout time.Duration

	// MinimumWait defers the first check. It keeps a completion signal left
	// over from an earlier attempt, or a short lull right after dispatch,
	// from ending the wait immediately.
	MinimumWait time.Duration

	// IdleThreshold is how long the workspace must stay quiet before the
	// heuristic strategy declares completion.
	IdleThreshold time.Duration
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		Timeout:       30 * time.Minute,
		MinimumWait:   10 * time.Second,
		IdleThreshold: 60 * time.Second,
	}
}

// Option is a functional option for configuring detection timing.
type Option func(*Config)

// NewConfig returns DefaultConfig with opts applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithPollInterval sets the polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithTimeout sets the overall wait bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithMinimumWait sets the delay before the first check.
func WithMinimumWait(d time.Duration) Option {
	return func(c *Config) {
		c.MinimumWait = d
	}
}

// WithIdleThreshold sets the quiet period the heuristic requires.
func WithIdleThreshold(d time.Duration) Option {
	return func(c *Config) {
		c.IdleThreshold = d
	}
}

// Validate checks that the timing is usable.
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return errors.NewValidationError("poll interval must be positive").
			WithField("completion.poll_interval").WithValue(c.PollInterval)
	case c.Timeout <= 0:
		return errors.NewValidationError("timeout must be positive").
			WithField("completion.timeout").WithValue(c.Timeout)
	case c.MinimumWait < 0:
		return errors.NewValidationError("minimum wait must not be negative").
			WithField("completion.minimum_wait").WithValue(c.MinimumWait)
	case c.MinimumWait >= c.Timeout:
		return errors.NewValidationError("minimum wait must be shorter than the timeout").
			WithField("completion.minimum_wait").WithValue(c.MinimumWait)
	case c.IdleThreshold < 0:
		return errors.NewValidationError("idle threshold must not be negative").
			WithField("completion.idle_threshold").WithValue(c.IdleThreshold)
	}
	return nil
}

// Deps are the collaborators a detector may need.
type Deps struct {
	Leases   LeaseReader
	Activity ActivitySource
	Clock    clockwork.Clock
	Logger   *logging.Logger
}

// New builds the detector for strategy.
func New(strategy Strategy, deps Deps, cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strategy {
	case StrategySignal:
		if deps.Leases == nil {
			return nil, fmt.Errorf("signal strategy requires a lease store")
		}
		return NewSignal(deps.Leases, deps.Clock, cfg, deps.Logger), nil
	case StrategyHeuristic:
		if deps.Activity == nil {
			return nil, fmt.Errorf("heuristic strategy requires an activity source")
		}
		return NewHeuristic(deps.Activity, deps.Clock, cfg, deps.Logger), nil
	default:
		_, err := ParseStrategy(string(strategy))
		return nil, err
	}
}

func clockOrReal(c clockwork.Clock) clockwork.Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}

func loggerOrNop(l *logging.Logger) *logging.Logger {
	if l == nil {
		return logging.NopLogger()
	}
	return l
}
