package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/autopilot/internal/activity"
	"github.com/Iron-Ham/autopilot/internal/completion"
	"github.com/Iron-Ham/autopilot/internal/delegate"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/Iron-Ham/autopilot/internal/session"
	"github.com/Iron-Ham/autopilot/internal/tui"
	"github.com/Iron-Ham/autopilot/internal/verify"
)

// delegateLogName receives the output of command delegates.
const delegateLogName = "delegate.log"

type runOptions struct {
	maxIterations int
	strategy      string
	yes           bool
	verbose       bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	c := &cobra.Command{
		Use:     "run",
		Aliases: []string{"start"},
		Short:   "Work through the plan until it is finished or the iteration budget is spent",
		Long: `Run loads the plan and processes tasks in priority order, one at a time.
Each iteration picks the first task that is neither Done nor Skipped, skips it
when its effects already exist in the workspace, and otherwise dispatches it to
the configured executor and waits for it to finish.

The run stops when every task is complete, when --max-iterations tasks have been
processed, or on SIGINT/SIGTERM (see "autopilot stop"). Progress is recorded as
it happens, so an interrupted run can simply be started again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts)
		},
	}
	c.Flags().IntVarP(&opts.maxIterations, "max-iterations", "n", 0, "tasks to process in this run, skips included (default from loop.max_iterations)")
	c.Flags().StringVar(&opts.strategy, "strategy", "", "completion strategy: signal or heuristic (default from completion.strategy)")
	c.Flags().BoolVarP(&opts.yes, "yes", "y", false, "clear leases left in progress by a previous run without asking")
	c.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "also print log records to stderr")
	return c
}

func runPlan(cmd *cobra.Command, opts runOptions) error {
	ws, err := loadWorkspace(cmd)
	if err != nil {
		return err
	}
	cfg := ws.Config
	if opts.maxIterations > 0 {
		cfg.Loop.MaxIterations = opts.maxIterations
	}
	strategyName := cfg.Completion.Strategy
	if opts.strategy != "" {
		strategyName = opts.strategy
	}
	strategy, err := completion.ParseStrategy(strategyName)
	if err != nil {
		return err
	}

	logger, err := newLogger(ws, opts.verbose, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	runID := uuid.NewString()
	lock, err := session.Acquire(ws.StateDir, runID, session.WithLogger(logger), session.WithWorkspace(ws.Root))
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyRunning) {
			return fmt.Errorf("%w (use \"autopilot stop\" to end it)", err)
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release run lock", "error", err)
		}
	}()

	store, closer, err := ws.OpenProgress(logger)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	clock := clockwork.NewRealClock()
	leases := ws.Leases(logger)

	monitor, err := activity.NewMonitor(clock,
		activity.WithRoot(ws.Root),
		activity.WithIgnore(cfg.Activity.Ignore...),
		activity.WithIgnorePaths(ws.StateDir, ws.ProgressPath()),
		activity.WithBufferSize(cfg.Activity.BufferSize),
		activity.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	watcher, err := activity.NewWatcher(ws.Root, monitor,
		activity.WithSkipDirs(filepath.Base(ws.StateDir)),
		activity.WithWatcherLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("watch workspace: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	detector, err := completion.New(strategy, completion.Deps{
		Leases:   leases,
		Activity: monitor,
		Clock:    clock,
		Logger:   logger,
	}, completion.NewConfig(
		completion.WithPollInterval(cfg.Completion.PollInterval()),
		completion.WithTimeout(cfg.Completion.Timeout()),
		completion.WithMinimumWait(cfg.Completion.MinimumWait()),
		completion.WithIdleThreshold(cfg.Completion.IdleThreshold()),
	))
	if err != nil {
		return err
	}

	dlg, err := newDelegate(ws, monitor, logger)
	if err != nil {
		return err
	}
	prompts, err := newPromptBuilder(ws)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	width := terminalWidth(out)
	bus := event.NewBus(event.WithLogger(logger))
	bus.SubscribeAll(func(e event.Event) {
		if line := tui.RenderEvent(e, width); line != "" {
			fmt.Fprintln(out, line)
		}
	})

	deps := orchestrator.Deps{
		Leases:    leases,
		Detector:  detector,
		Delegate:  dlg,
		Prompts:   prompts,
		Activity:  monitor,
		Confirmer: newConfirmer(cmd, opts.yes),
		Progress:  store,
		Bus:       bus,
		Clock:     clock,
		Logger:    logger,
	}
	if cfg.Verify.Enabled {
		verifier, err := newVerifier(ws, logger)
		if err != nil {
			return err
		}
		deps.Verifier = verifier
	}

	orch, err := orchestrator.New(orchestrator.Config{
		RunID:         runID,
		MaxIterations: cfg.Loop.MaxIterations,
		SettleDelay:   cfg.Loop.SettleDelay(),
	}, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatching := context.WithCancel(gctx)
	var result *orchestrator.Result
	g.Go(func() error {
		defer stopWatching()
		r, err := orch.Run(gctx, ws.PlanSource(), store)
		result = r
		return err
	})
	g.Go(func() error {
		return watcher.Run(watchCtx)
	})
	runErr := g.Wait()

	if result != nil {
		fmt.Fprintf(out, "%s (%s)\n", result.Summary, result.Duration.Round(time.Second))
	}
	return runErr
}

// newLogger builds the run logger from the logging section. --verbose adds a
// human-readable copy on console.
func newLogger(ws *workspace, verbose bool, console io.Writer) (*logging.Logger, error) {
	lc := ws.Config.Logging
	if !lc.Enabled && !verbose {
		return logging.NopLogger(), nil
	}

	opts := logging.Options{Level: lc.Level, Journal: lc.Journal}
	if lc.Enabled {
		opts.Dir = ws.StateDir
		opts.Rotation = logging.RotationConfig{
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			Compress:   lc.Compress,
		}
		if verbose {
			opts.Console = console
		}
	}
	return logging.New(opts)
}

func newDelegate(ws *workspace, monitor *activity.Monitor, logger *logging.Logger) (delegate.Delegate, error) {
	dc := ws.Config.Delegate
	switch dc.Kind {
	case "tmux":
		return delegate.NewTmux(dc.TmuxSocket, dc.TmuxSession, nil, monitor, logger), nil
	default:
		return delegate.NewCommand(dc.Command, ws.Root,
			delegate.WithPromptOnStdin(dc.PromptOnStdin),
			delegate.WithLogFile(filepath.Join(ws.StateDir, delegateLogName)),
			delegate.WithActivity(monitor),
			delegate.WithCommandLogger(logger),
		)
	}
}

func newPromptBuilder(ws *workspace) (*delegate.PromptBuilder, error) {
	path := ws.Config.Delegate.TemplatesFile
	if path == "" {
		return delegate.NewPromptBuilder(nil)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws.Root, path)
	}
	overrides, err := delegate.LoadPromptTemplates(path)
	if err != nil {
		return nil, err
	}
	return delegate.NewPromptBuilder(overrides)
}

func newVerifier(ws *workspace, logger *logging.Logger) (*verify.Verifier, error) {
	opts := []verify.Option{verify.WithLogger(logger)}
	if path := ws.Config.Verify.RulesFile; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(ws.Root, path)
		}
		rules, err := verify.LoadRules(path, ws.Root)
		if err != nil {
			return nil, err
		}
		opts = append(opts, verify.WithRules(rules))
	}
	return verify.New(ws.Root, opts...), nil
}

// newConfirmer asks on the terminal when one is attached. Without a
// terminal, stale leases are cleared only with --yes.
func newConfirmer(cmd *cobra.Command, yes bool) orchestrator.Confirmer {
	if yes {
		return orchestrator.AutoConfirm(true)
	}
	if tui.IsInteractive(os.Stdin, os.Stdout) && cmd.OutOrStdout() == os.Stdout {
		return tui.Prompt{In: os.Stdin, Out: os.Stdout}
	}
	return orchestrator.AutoConfirm(false)
}
