// Package lease implements the execution lock that keeps at most one task in
// flight per workspace.
//
// Each task id owns one small file under the lease directory whose entire
// content is either "inprogress" or "completed". The file doubles as the
// completion sentinel handed to the delegate: a cooperative executor signals
// that it is finished by writing "completed" into it.
package lease

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/filelock"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/tick"
)

// State is the content of a lease file.
type State string

// Lease states.
const (
	StateNone       State = "none"
	StateInProgress State = "inprogress"
	StateCompleted  State = "completed"
)

// Extension is the filename suffix of lease files.
const Extension = ".lease"

// ParseState interprets raw lease file content. Surrounding whitespace is
// ignored; anything other than the two literal states is StateNone.
func ParseState(content string) State {
	switch State(strings.TrimSpace(content)) {
	case StateInProgress:
		return StateInProgress
	case StateCompleted:
		return StateCompleted
	default:
		return StateNone
	}
}

// Lease describes one lease file.
type Lease struct {
	ID       string
	State    State
	Path     string
	Modified time.Time
}

// Store manages the lease files in one directory.
type Store struct {
	dir          string
	clock        clockwork.Clock
	logger       *logging.Logger
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock driving EnsureNoActiveTask.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollInterval sets how often EnsureNoActiveTask re-checks the leases.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithWaitTimeout bounds how long EnsureNoActiveTask waits before clearing
// an active lease.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.waitTimeout = d
		}
	}
}

// Default timing for EnsureNoActiveTask.
const (
	DefaultPollInterval = time.Second
	DefaultWaitTimeout  = 5 * time.Minute
)

// NewStore returns a Store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:          dir,
		clock:        clockwork.NewRealClock(),
		logger:       logging.NopLogger(),
		pollInterval: DefaultPollInterval,
		waitTimeout:  DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the lease directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the lease file for id. Ids are path-escaped so any id maps to
// a single file inside the lease directory and back again.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, url.PathEscape(id)+Extension)
}

// idFromName reverses Path for a directory entry name.
func idFromName(name string) (string, bool) {
	if !strings.HasSuffix(name, Extension) {
		return "", false
	}
	id, err := url.PathUnescape(strings.TrimSuffix(name, Extension))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (s *Store) write(id string, state State) error {
	if id == "" {
		return fmt.Errorf("lease: empty task id")
	}
	if err := filelock.WriteAtomic(s.Path(id), []byte(state), 0644); err != nil {
		return fmt.Errorf("write lease for task %s: %w", id, err)
	}
	return nil
}

// SetInProgress marks id as the active task.
func (s *Store) SetInProgress(id string) error {
	if err := s.write(id, StateInProgress); err != nil {
		return err
	}
	s.logger.Debug("lease acquired", "task_id", id)
	return nil
}

// SetCompleted releases id, creating the lease file if it does not exist.
func (s *Store) SetCompleted(id string) error {
	if err := s.write(id, StateCompleted); err != nil {
		return err
	}
	s.logger.Debug("lease released", "task_id", id)
	return nil
}

// Status reads the lease for id. Missing or unreadable files read as
// StateNone.
func (s *Store) Status(id string) State {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("unreadable lease treated as none", "task_id", id, "error", err)
		}
		return StateNone
	}
	return ParseState(string(data))
}

// List returns every lease in filename order.
func (s *Store) List() ([]Lease, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lease dir: %w", err)
	}

	var leases []Lease
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := idFromName(entry.Name())
		if !ok {
			continue
		}
		l := Lease{ID: id, Path: filepath.Join(s.dir, entry.Name()), State: s.Status(id)}
		if info, err := entry.Info(); err == nil {
			l.Modified = info.ModTime()
		}
		leases = append(leases, l)
	}
	return leases, nil
}

// ActiveID returns the first task whose lease reads inprogress, in filename
// order.
func (s *Store) ActiveID() (string, bool, error) {
	leases, err := s.List()
	if err != nil {
		return "", false, err
	}
	for _, l := range leases {
		if l.State == StateInProgress {
			return l.ID, true, nil
		}
	}
	return "", false, nil
}

// Clear removes the lease for id. Clearing an absent lease is not an error.
func (s *Store) Clear(id string) error {
	if err := os.Remove(s.Path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear lease for task %s: %w", id, err)
	}
	return nil
}

// EnsureNoActiveTask waits until no lease reads inprogress. A lease still
// active at the wait timeout is cleared with a warning and the wait succeeds.
func (s *Store) EnsureNoActiveTask(ctx context.Context) error {
	var active string
	poller := tick.Poller{
		Clock:     s.clock,
		Interval:  s.pollInterval,
		Timeout:   s.waitTimeout,
		Operation: "waiting for the active task to finish",
	}
	_, err := poller.Poll(ctx, func(time.Duration) (bool, error) {
		id, ok, err := s.ActiveID()
		if err != nil {
			return false, err
		}
		if ok && id != active {
			s.logger.Info("waiting for active lease", "task_id", id)
		}
		active = id
		return !ok, nil
	})
	if err == nil || !errors.Is(err, errors.ErrTimeout) || errors.IsCancelled(err) {
		return err
	}

	s.logger.Warn("forcing stale lease clear after wait timeout",
		"task_id", active,
		"lease", s.Path(active),
		"timeout", s.waitTimeout.String(),
	)
	if err := s.Clear(active); err != nil {
		return err
	}
	return nil
}
