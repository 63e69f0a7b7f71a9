package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/completion"
	"github.com/Iron-Ham/autopilot/internal/delegate"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/progress"
	"github.com/Iron-Ham/autopilot/internal/tick"
	"github.com/Iron-Ham/autopilot/internal/verify"
)

// assumedNote is recorded when the heuristic strategy times out.
const assumedNote = "completion assumed after timeout"

// run executes one run to its end state. Task-level failures are recorded
// and never returned; the error is reserved for plan, storage and operator
// aborts.
func (o *Orchestrator) run(ctx context.Context, src PlanSource, sink progress.Store) (*Result, error) {
	start := o.clock.Now()
	result := &Result{RunID: o.cfg.RunID}
	finish := func(state State, err error) (*Result, error) {
		o.transition(state, "")
		result.State = state
		result.Cancelled = state == StateCancelled
		result.Duration = o.clock.Since(start)
		o.mu.Lock()
		result.Iterations = o.status.Iteration
		result.Summary = o.status.Summary
		o.mu.Unlock()
		if err != nil {
			o.logger.Error("run failed", "error", err)
		} else {
			o.logger.Info("run ended",
				"state", string(state),
				"iterations", result.Iterations,
				"summary", result.Summary.String(),
			)
		}
		return result, err
	}

	if o.deps.Detector == nil || o.deps.Delegate == nil {
		return finish(StateFailed, fmt.Errorf("orchestrator requires a completion detector and a delegate to run"))
	}
	if sink == nil {
		return finish(StateFailed, fmt.Errorf("orchestrator requires a progress store to run"))
	}

	tasks, err := src.Load()
	if err != nil {
		return finish(StateFailed, err)
	}
	o.mu.Lock()
	o.tasks = tasks
	o.mu.Unlock()
	o.logger.Info("run started",
		"tasks", len(tasks),
		"max_iterations", o.cfg.MaxIterations,
		"strategy", string(o.deps.Detector.Strategy()),
	)

	if err := o.recoverStaleLeases(ctx, sink); err != nil {
		if errors.IsCancelled(err) {
			return finish(StateCancelled, nil)
		}
		return finish(StateFailed, err)
	}

	for {
		iteration := o.Status().Iteration
		if iteration > 0 && iteration < o.cfg.MaxIterations {
			if err := tick.Sleep(ctx, o.clock, o.cfg.SettleDelay, "settling between tasks"); err != nil {
				return finish(StateCancelled, nil)
			}
		}
		if ctx.Err() != nil {
			return finish(StateCancelled, nil)
		}

		o.transition(StateScheduling, "")
		entries, err := sink.Read()
		if err != nil {
			return finish(StateFailed, errors.Wrap(err, "read progress"))
		}
		o.updateSummary(tasks, entries)

		task, ok := next(tasks, entries)
		if !ok {
			return finish(StateFinished, nil)
		}
		if iteration >= o.cfg.MaxIterations {
			o.logger.Info("iteration budget exhausted", "next_task", task.ID)
			return finish(StatePaused, nil)
		}

		o.mu.Lock()
		o.status.Iteration++
		o.mu.Unlock()

		logger := o.logger.WithTask(task.ID).WithPhase(task.Phase)
		from := entries[task.ID].Status

		if res := o.satisfied(ctx, task); res.Satisfied {
			if err := o.skip(sink, task, from, res.Reason, logger); err != nil {
				return finish(StateFailed, err)
			}
			result.Skipped = append(result.Skipped, task.ID)
		} else {
			out, err := o.execute(ctx, sink, task, from, logger)
			if err != nil {
				return finish(StateFailed, err)
			}
			switch out {
			case outcomeCancelled:
				return finish(StateCancelled, nil)
			case outcomeDone:
				result.Completed = append(result.Completed, task.ID)
			case outcomeFailed:
				result.Failed = append(result.Failed, task.ID)
			}
		}
	}
}

// next returns the lowest-order task that is neither Done nor Skipped.
func next(tasks []plan.Task, entries map[string]progress.Entry) (plan.Task, bool) {
	var best plan.Task
	found := false
	for _, t := range tasks {
		if entries[t.ID].Status.IsComplete() {
			continue
		}
		if !found || t.Order < best.Order {
			best = t
			found = true
		}
	}
	return best, found
}

func (o *Orchestrator) updateSummary(tasks []plan.Task, entries map[string]progress.Entry) {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	summary := progress.SummarizeIDs(entries, ids)

	o.mu.Lock()
	o.status.Summary = summary
	o.mu.Unlock()
}

// satisfied reports whether the verifier finds task already done.
func (o *Orchestrator) satisfied(ctx context.Context, task plan.Task) verify.Result {
	if o.deps.Verifier == nil {
		return verify.Result{}
	}
	return o.deps.Verifier.Verify(ctx, task)
}

// recoverStaleLeases asks the operator about every lease a previous run left
// in progress. Declining aborts the run without touching anything.
func (o *Orchestrator) recoverStaleLeases(ctx context.Context, sink progress.Store) error {
	for {
		id, ok, err := o.deps.Leases.ActiveID()
		if err != nil {
			return errors.Wrap(err, "check for stale leases")
		}
		if !ok {
			return nil
		}

		var status string
		if entries, err := sink.Read(); err == nil {
			if e, ok := entries[id]; ok {
				status = string(e.Status)
			}
		}
		warning := errors.NewStaleLeaseWarning(id, o.deps.Leases.Path(id), status)
		o.logger.Warn("stale lease found", "task_id", id, "lease", warning.LeasePath, "progress", status)

		confirmed, err := o.deps.Confirmer.ConfirmStaleLease(ctx, warning)
		if err != nil {
			if ctx.Err() != nil {
				return errors.NewCancelledError("confirming stale lease", ctx.Err())
			}
			return errors.Wrap(err, "confirm stale lease")
		}
		if !confirmed {
			return fmt.Errorf("operator declined to clear lease: %w", warning)
		}
		if err := o.deps.Leases.Clear(id); err != nil {
			return err
		}
		o.logger.Warn("stale lease cleared by operator", "task_id", id)
		o.bus.Publish(event.NewLeaseForcedEvent(o.clock.Now(), id, true))
	}
}

// skip records a task whose effects are already present as Done.
func (o *Orchestrator) skip(sink progress.Store, task plan.Task, from progress.Status, reason string, logger *logging.Logger) error {
	o.transition(StateSkipping, task.ID)

	if !progress.ValidTransition(from, progress.StatusDone) {
		if err := o.record(sink, task.ID, from, progress.StatusPending, "reset for verification"); err != nil {
			return err
		}
		from = progress.StatusPending
	}
	note := "skipped: " + reason
	if err := o.record(sink, task.ID, from, progress.StatusDone, note); err != nil {
		return err
	}
	logger.Info("task already satisfied; skipped", "reason", reason)
	o.bus.Publish(event.NewTaskSkippedEvent(o.clock.Now(), task.ID, reason))
	return nil
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeFailed
	outcomeCancelled
)

// execute dispatches task and records how it ended. The returned error is
// fatal to the run; task failures are reported through the outcome.
func (o *Orchestrator) execute(ctx context.Context, sink progress.Store, task plan.Task, from progress.Status, logger *logging.Logger) (outcome, error) {
	o.transition(StateDispatching, task.ID)

	if from == progress.StatusFailed || from == progress.StatusInProgress {
		note := "retrying after failure"
		if from == progress.StatusInProgress {
			note = "retrying interrupted attempt"
		}
		if err := o.record(sink, task.ID, from, progress.StatusPending, note); err != nil {
			return outcomeFailed, err
		}
		logger.Info("retrying task", "previous_status", string(from))
		from = progress.StatusPending
	}

	if err := o.deps.Leases.EnsureNoActiveTask(ctx); err != nil {
		if errors.IsCancelled(err) {
			return outcomeCancelled, nil
		}
		return outcomeFailed, err
	}
	if err := o.deps.Leases.SetInProgress(task.ID); err != nil {
		return outcomeFailed, err
	}
	if err := o.record(sink, task.ID, from, progress.StatusInProgress, "dispatched by run "+o.cfg.RunID); err != nil {
		// Nothing was dispatched, so the lease must not survive as
		// evidence of work in flight.
		if clearErr := o.deps.Leases.Clear(task.ID); clearErr != nil {
			logger.Error("failed to release lease after progress write failed", "error", clearErr)
		}
		return outcomeFailed, errors.Wrapf(err, "record dispatch of task %s", task.ID)
	}
	if o.deps.Activity != nil {
		o.deps.Activity.ResetActivity()
	}

	sentinel := o.deps.Leases.Path(task.ID)
	prompt, err := o.deps.Prompts.Build(task, sentinel)
	if err == nil {
		err = o.deps.Delegate.Dispatch(ctx, delegate.Dispatch{
			Task:         task,
			Prompt:       prompt,
			SentinelPath: sentinel,
			RunID:        o.cfg.RunID,
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("cancelled during dispatch; lease left in progress")
			return outcomeCancelled, nil
		}
		if !errors.IsTaskLevel(err) {
			err = errors.NewTaskError("dispatch failed", err).WithTaskID(task.ID).WithPhase(task.Phase)
		}
		o.transition(StateRecording, task.ID)
		return o.fail(sink, task, err, logger)
	}

	iteration := o.Status().Iteration
	logger.Info("task dispatched", "action", string(task.Action), "iteration", iteration)
	o.bus.Publish(event.NewTaskDispatchedEvent(o.clock.Now(), task.ID, task.Phase, string(task.Action), iteration))

	o.transition(StateAwaitingCompletion, task.ID)
	result, err := o.deps.Detector.Wait(ctx, task.ID)
	if errors.IsCancelled(err) {
		logger.Info("cancelled while awaiting completion; lease left in progress")
		return outcomeCancelled, nil
	}

	o.transition(StateRecording, task.ID)
	if err != nil {
		return o.fail(sink, task, err, logger)
	}
	return o.succeed(sink, task, result, logger)
}

func (o *Orchestrator) succeed(sink progress.Store, task plan.Task, result completion.Outcome, logger *logging.Logger) (outcome, error) {
	if err := o.deps.Leases.SetCompleted(task.ID); err != nil {
		return outcomeFailed, err
	}
	var note string
	if result.Assumed {
		note = assumedNote
	}
	if err := o.record(sink, task.ID, progress.StatusInProgress, progress.StatusDone, note); err != nil {
		return outcomeFailed, err
	}
	logger.Info("task completed",
		"strategy", string(result.Strategy),
		"elapsed", result.Elapsed.String(),
		"assumed", result.Assumed,
	)
	o.bus.Publish(event.NewTaskCompletedEvent(o.clock.Now(), task.ID, string(result.Strategy), result.Elapsed, result.Assumed))
	return outcomeDone, nil
}

// fail releases the lease and records cause. The lease is always released
// so the next iteration is not blocked behind a task that will never signal.
func (o *Orchestrator) fail(sink progress.Store, task plan.Task, cause error, logger *logging.Logger) (outcome, error) {
	if err := o.deps.Leases.SetCompleted(task.ID); err != nil {
		return outcomeFailed, err
	}
	note := cause.Error()
	timeout := errors.Is(cause, errors.ErrTimeout)
	if timeout && !strings.HasPrefix(note, "timed out") {
		note = "timed out: " + note
	}
	if err := o.record(sink, task.ID, progress.StatusInProgress, progress.StatusFailed, note); err != nil {
		return outcomeFailed, err
	}
	logAt(logger, errors.GetSeverity(cause), "task failed",
		"error", cause,
		"timeout", timeout,
		"retryable", errors.IsRetryable(cause),
	)
	o.bus.Publish(event.NewTaskFailedEvent(o.clock.Now(), task.ID, note, timeout))
	return outcomeFailed, nil
}

// logAt logs msg at the level matching an error's severity.
func logAt(logger *logging.Logger, sev errors.Severity, msg string, args ...any) {
	args = append(args, "severity", sev.String())
	switch sev {
	case errors.SeverityDebug:
		logger.Debug(msg, args...)
	case errors.SeverityInfo:
		logger.Info(msg, args...)
	case errors.SeverityWarning:
		logger.Warn(msg, args...)
	default:
		logger.Error(msg, args...)
	}
}
