// Package session guards a workspace against concurrent orchestrators.
//
// A run holds a JSON lock file in the state directory recording its run id
// and PID. A lock whose process is gone is stale and is replaced silently;
// `autopilot stop` reads the same file to find the process to signal.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/logging"
)

// LockFileName is the name of the run lock within the state directory.
const LockFileName = "run.lock"

// ErrNotRunning is returned by Signal when no live process holds the lock.
var ErrNotRunning = errors.New("no orchestrator is running")

// Lock is an acquired run lock.
type Lock struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Workspace string    `json:"workspace,omitempty"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// Option configures Acquire.
type Option func(*acquireOptions)

type acquireOptions struct {
	clock     clockwork.Clock
	logger    *logging.Logger
	workspace string
}

// WithClock sets the clock used for StartedAt.
func WithClock(c clockwork.Clock) Option {
	return func(o *acquireOptions) { o.clock = c }
}

// WithLogger sets the logger. Without it Acquire is silent.
func WithLogger(l *logging.Logger) Option {
	return func(o *acquireOptions) { o.logger = l }
}

// WithWorkspace records the workspace root in the lock for display.
func WithWorkspace(root string) Option {
	return func(o *acquireOptions) { o.workspace = root }
}

// Path returns the lock file location for a state directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, LockFileName)
}

// Acquire takes the run lock in stateDir for runID. It fails with an error
// matching errors.ErrAlreadyRunning when a live process holds the lock.
func Acquire(stateDir, runID string, opts ...Option) (*Lock, error) {
	o := acquireOptions{clock: clockwork.NewRealClock(), logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.WithRun(runID)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	path := Path(stateDir)

	if held, err := Read(stateDir); err == nil {
		if isProcessAlive(held.PID) {
			logger.Error("failed to acquire run lock", "holder_run_id", held.RunID, "holder_pid", held.PID)
			return nil, alreadyRunning(held)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale run lock: %w", err)
		}
		logger.Warn("stale run lock cleaned", "old_run_id", held.RunID, "old_pid", held.PID)
	} else if !os.IsNotExist(err) {
		// Unreadable lock: nobody can prove ownership, so take it over.
		logger.Warn("replacing unreadable run lock", "error", err)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove unreadable run lock: %w", err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		RunID:     runID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		Workspace: o.workspace,
		StartedAt: o.clock.Now().UTC(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run lock: %w", err)
	}

	// O_EXCL loses the race cleanly against a second starter.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if held, readErr := Read(stateDir); readErr == nil {
				return nil, alreadyRunning(held)
			}
			return nil, errors.ErrAlreadyRunning
		}
		return nil, fmt.Errorf("failed to create run lock: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write run lock: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close run lock: %w", err)
	}

	logger.Info("run lock acquired", "pid", lock.PID)
	return lock, nil
}

func alreadyRunning(held *Lock) error {
	return fmt.Errorf("%w: run %s (PID %d on %s)", errors.ErrAlreadyRunning, held.RunID, held.PID, held.Hostname)
}

// Release removes the lock file if this process still owns it.
// Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	held, err := readPath(l.path)
	if err != nil || held.PID != l.PID || held.RunID != l.RunID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	if l.logger != nil {
		l.logger.Info("run lock released")
	}
	return nil
}

// Read returns the lock recorded in stateDir. A missing lock yields an
// error satisfying os.IsNotExist.
func Read(stateDir string) (*Lock, error) {
	return readPath(Path(stateDir))
}

func readPath(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse run lock: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// Holder reports the lock in stateDir and whether its process is alive.
func Holder(stateDir string) (*Lock, bool) {
	lock, err := Read(stateDir)
	if err != nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID)
}

// Signal delivers sig to the live lock holder in stateDir.
func Signal(stateDir string, sig os.Signal) (*Lock, error) {
	lock, alive := Holder(stateDir)
	if lock == nil || !alive {
		return lock, ErrNotRunning
	}
	proc, err := os.FindProcess(lock.PID)
	if err != nil {
		return lock, fmt.Errorf("failed to find process %d: %w", lock.PID, err)
	}
	if err := proc.Signal(sig); err != nil {
		return lock, fmt.Errorf("failed to signal process %d: %w", lock.PID, err)
	}
	return lock, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
