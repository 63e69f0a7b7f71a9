package delegate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Iron-Ham/autopilot/internal/activity"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/logging"
)

// Command runs the executor as a child process per task, for example
// "claude -p <prompt>". The child runs in its own process group and is not
// tied to the dispatch context: stopping the orchestrator leaves it running
// and its lease in progress for the next run to recover.
type Command struct {
	argv          []string
	dir           string
	promptOnStdin bool
	logPath       string
	activity      ActivitySink
	logger        *logging.Logger

	wg sync.WaitGroup
}

// CommandOption configures a Command.
type CommandOption func(*Command)

// WithPromptOnStdin feeds the prompt on stdin instead of appending it as the
// last argument.
func WithPromptOnStdin(on bool) CommandOption {
	return func(c *Command) {
		c.promptOnStdin = on
	}
}

// WithLogFile appends the child's stdout and stderr to path.
func WithLogFile(path string) CommandOption {
	return func(c *Command) {
		c.logPath = path
	}
}

// WithActivity reports process start and stop to sink.
func WithActivity(sink ActivitySink) CommandOption {
	return func(c *Command) {
		c.activity = sink
	}
}

// WithCommandLogger sets the delegate's logger.
func WithCommandLogger(l *logging.Logger) CommandOption {
	return func(c *Command) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCommand returns a delegate running argv in dir.
func NewCommand(argv []string, dir string, opts ...CommandOption) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.NewValidationError("delegate command is empty").WithField("delegate.command")
	}
	c := &Command{
		argv:   append([]string(nil), argv...),
		dir:    dir,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dispatch starts the executor for d and returns once it is running.
func (c *Command) Dispatch(ctx context.Context, d Dispatch) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("dispatching task "+d.Task.ID, err)
	}

	args := append([]string(nil), c.argv[1:]...)
	if !c.promptOnStdin {
		args = append(args, d.Prompt)
	}
	cmd := exec.Command(c.argv[0], args...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(), d.Env()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if c.promptOnStdin {
		cmd.Stdin = strings.NewReader(d.Prompt)
	}

	var logFile *os.File
	if c.logPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.logPath), 0755); err != nil {
			return c.startError(d, fmt.Errorf("create log dir: %w", err))
		}
		f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return c.startError(d, fmt.Errorf("open delegate log: %w", err))
		}
		fmt.Fprintf(f, "=== task %s started %s ===\n", d.Task.ID, time.Now().UTC().Format(time.RFC3339))
		cmd.Stdout, cmd.Stderr = f, f
		logFile = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return c.startError(d, err)
	}

	c.submit(activity.ProcessStarted)
	c.logger.Info("delegate started", "task_id", d.Task.ID, "pid", cmd.Process.Pid)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := cmd.Wait()
		c.submit(activity.ProcessStopped)
		if logFile != nil {
			fmt.Fprintf(logFile, "=== task %s exited: %s ===\n", d.Task.ID, exitText(err))
			_ = logFile.Close()
		}
		if err != nil {
			c.logger.Warn("delegate exited with error", "task_id", d.Task.ID, "error", err)
			return
		}
		c.logger.Info("delegate exited", "task_id", d.Task.ID)
	}()
	return nil
}

// Wait blocks until every started executor has exited.
func (c *Command) Wait() {
	c.wg.Wait()
}

func (c *Command) submit(kind activity.Kind) {
	if c.activity != nil {
		c.activity.Submit(activity.Event{Kind: kind})
	}
}

func (c *Command) startError(d Dispatch, err error) error {
	return errors.NewTaskError("failed to start delegate "+c.argv[0], err).
		WithTaskID(d.Task.ID).
		WithPhase(d.Task.Phase)
}

func exitText(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
