// Package logging provides structured logging for autopilot runs.
//
// It wraps log/slog to write JSON lines to {state}/debug.log so a run can be
// reconstructed after the fact: which task was selected, why it was skipped,
// when a lease was taken and released, and how completion was decided.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Options{Dir: ".autopilot", Level: "INFO"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("task completed", "duration_ms", 1500)
//
// # Context Propagation
//
// Child loggers carry persistent attributes and share their parent's sink:
//
//	taskLog := logger.WithRun(runID).WithTask(task.ID).WithPhase(task.Phase)
//	taskLog.Warn("completion assumed after timeout")
//
// # Sinks
//
// [New] accepts [Options]. Besides the JSON file, records can be fanned out
// (via slog-multi) to a human-readable console writer and to the systemd
// journal. Size-based rotation of debug.log is provided by [RotatingWriter]:
// rotated files are named debug.log.1 (newest) through debug.log.N, with a
// .gz suffix when compression is enabled.
//
// For tests, use [NopLogger].
package logging
