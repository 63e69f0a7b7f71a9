package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/completion"
	"github.com/Iron-Ham/autopilot/internal/delegate"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/progress"
	"github.com/Iron-Ham/autopilot/internal/verify"
)

// DefaultMaxIterations bounds a run when Config.MaxIterations is unset.
const DefaultMaxIterations = 50

// ErrNotStarted is returned by Wait before any run has been started.
var ErrNotStarted = errors.New("orchestrator has not been started")

// PlanSource supplies the ordered task list for a run.
type PlanSource interface {
	Load() ([]plan.Task, error)
}

// LeaseStore is the execution lock. *lease.Store implements it.
type LeaseStore interface {
	ActiveID() (string, bool, error)
	EnsureNoActiveTask(ctx context.Context) error
	SetInProgress(id string) error
	SetCompleted(id string) error
	Clear(id string) error
	Path(id string) string
}

// Verifier decides whether a task's effects already exist.
type Verifier interface {
	Verify(ctx context.Context, task plan.Task) verify.Result
}

// PromptRenderer renders the instruction text handed to the delegate.
type PromptRenderer interface {
	Build(task plan.Task, sentinelPath string) (string, error)
}

// ActivityResetter is reset before each dispatch so the heuristic strategy
// measures idleness from the hand-off.
type ActivityResetter interface {
	ResetActivity()
}

// Config holds the run parameters.
type Config struct {
	// RunID labels logs, events and the dispatch. Empty means a fresh UUID.
	RunID string
	// MaxIterations bounds the number of tasks processed in one run,
	// verified skips included.
	MaxIterations int
	// SettleDelay separates iterations.
	SettleDelay time.Duration
}

// Deps are the orchestrator's collaborators. Leases is always required;
// Detector and Delegate are required to run.
type Deps struct {
	Leases    LeaseStore
	Detector  completion.Detector
	Delegate  delegate.Delegate
	Verifier  Verifier
	Prompts   PromptRenderer
	Activity  ActivityResetter
	Confirmer Confirmer
	// Progress is used by ResetTask and SkipTask before any run has
	// supplied a sink.
	Progress progress.Store
	Bus      *event.Bus
	Clock    clockwork.Clock
	Logger   *logging.Logger
}

// Orchestrator drives a plan to completion one task at a time.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	clock  clockwork.Clock
	bus    *event.Bus
	logger *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	result  *Result
	err     error
	status  Status
	sink    progress.Store
	tasks   []plan.Task
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Leases == nil {
		return nil, fmt.Errorf("orchestrator requires a lease store")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	bus := deps.Bus
	if bus == nil {
		bus = event.NewBus(event.WithLogger(logger))
	}
	if deps.Prompts == nil {
		pb, err := delegate.NewPromptBuilder(nil)
		if err != nil {
			return nil, err
		}
		deps.Prompts = pb
	}
	if deps.Confirmer == nil {
		deps.Confirmer = AutoConfirm(false)
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		clock:  clock,
		bus:    bus,
		logger: logger.WithRun(cfg.RunID),
		status: Status{
			RunID:         cfg.RunID,
			State:         StateIdle,
			MaxIterations: cfg.MaxIterations,
		},
		sink: deps.Progress,
	}, nil
}

// RunID returns the identifier attached to this orchestrator's runs.
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

// Bus returns the event bus the orchestrator publishes to.
func (o *Orchestrator) Bus() *event.Bus {
	return o.bus
}

// Start begins a run in the background. If a run is already in progress it
// logs a warning and returns false.
func (o *Orchestrator) Start(ctx context.Context, src PlanSource, sink progress.Store) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.logger.Warn("run already in progress; start ignored", "current_task", o.status.CurrentTask)
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.done = make(chan struct{})
	o.result = nil
	o.err = nil
	o.sink = sink
	o.status = Status{
		RunID:         o.cfg.RunID,
		State:         StateIdle,
		Running:       true,
		MaxIterations: o.cfg.MaxIterations,
		StartedAt:     o.clock.Now(),
	}

	done := o.done
	go func() {
		defer close(done)
		defer cancel()

		result, err := o.run(runCtx, src, sink)

		o.mu.Lock()
		o.result = result
		o.err = err
		o.running = false
		o.status.Running = false
		o.status.CurrentTask = ""
		if err != nil {
			o.status.LastError = err.Error()
		}
		o.mu.Unlock()
	}()
	return true
}

// Wait blocks until the current or most recent run ends and returns its
// result. Cancellation is not an error; it is reported by Result.Cancelled.
func (o *Orchestrator) Wait() (*Result, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done == nil {
		return nil, ErrNotStarted
	}
	<-done

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result, o.err
}

// Run starts a run and waits for it.
func (o *Orchestrator) Run(ctx context.Context, src PlanSource, sink progress.Store) (*Result, error) {
	if !o.Start(ctx, src, sink) {
		return nil, errors.ErrAlreadyRunning
	}
	return o.Wait()
}

// Stop cancels the current run. Calling it with no run in progress, or more
// than once, is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	running := o.running
	o.mu.Unlock()

	if running && cancel != nil {
		o.logger.Info("stop requested")
		cancel()
	}
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// ResetTask forces id back to Pending and clears its lease. Resetting a task
// that is already pending is a no-op apart from the write. The task being
// worked on by a live run cannot be reset.
func (o *Orchestrator) ResetTask(id string) error {
	sink, err := o.checkMutable(id)
	if err != nil {
		return err
	}
	if err := sink.Reset(id); err != nil {
		return errors.Wrapf(err, "reset task %s", id)
	}
	if err := o.deps.Leases.Clear(id); err != nil {
		return err
	}
	o.logger.Info("task reset", "task_id", id)
	return nil
}

// SkipTask marks id Skipped so the scheduler passes over it. A task in a
// state that cannot move to Skipped directly is reset first.
func (o *Orchestrator) SkipTask(id, reason string) error {
	sink, err := o.checkMutable(id)
	if err != nil {
		return err
	}
	entries, err := sink.Read()
	if err != nil {
		return errors.Wrap(err, "read progress")
	}
	from := entries[id].Status
	if !progress.ValidTransition(from, progress.StatusSkipped) {
		if err := o.record(sink, id, from, progress.StatusPending, "reset before manual skip"); err != nil {
			return err
		}
		from = progress.StatusPending
	}
	detail := "manually"
	if reason != "" {
		detail += ": " + reason
	}
	if err := o.record(sink, id, from, progress.StatusSkipped, "skipped "+detail); err != nil {
		return err
	}
	o.bus.Publish(event.NewTaskSkippedEvent(o.clock.Now(), id, detail))
	o.logger.Info("task skipped", "task_id", id, "reason", reason)
	return nil
}

// checkMutable returns the sink to modify for id, refusing the in-flight task
// and ids absent from the last loaded plan.
func (o *Orchestrator) checkMutable(id string) (progress.Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running && o.status.CurrentTask == id {
		return nil, fmt.Errorf("task %s: %w", id, errors.ErrTaskInFlight)
	}
	if o.tasks != nil {
		if _, ok := plan.Find(o.tasks, id); !ok {
			return nil, errors.NewNotFoundError("task", id)
		}
	}
	if o.sink == nil {
		return nil, fmt.Errorf("no progress store configured")
	}
	return o.sink, nil
}

// record writes a status change after checking it is a legal transition.
func (o *Orchestrator) record(sink progress.Store, id string, from, to progress.Status, notes string) error {
	if !progress.ValidTransition(from, to) {
		if from == "" {
			from = progress.StatusPending
		}
		return fmt.Errorf("task %s: illegal progress transition %s -> %s", id, from, to)
	}
	if err := sink.Update(id, to, notes); err != nil {
		return fmt.Errorf("record task %s as %s: %w", id, to, err)
	}
	return nil
}

// transition moves the state machine and publishes the change.
func (o *Orchestrator) transition(to State, taskID string) {
	o.mu.Lock()
	from := o.status.State
	o.status.State = to
	o.status.CurrentTask = taskID
	iteration := o.status.Iteration
	o.mu.Unlock()

	if from == to {
		return
	}
	o.logger.Debug("state change", "from", string(from), "to", string(to), "task_id", taskID)
	o.bus.Publish(event.NewRunStateEvent(o.clock.Now(), o.cfg.RunID, string(from), string(to), taskID, iteration))
}
