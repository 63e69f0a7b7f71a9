// Package activity tracks how recently the workspace showed signs of work.
//
// A [Monitor] folds a stream of events (file changes, process start and stop)
// into a single last-activity timestamp. The heuristic completion strategy
// treats a sufficiently long quiet period as evidence that the executor has
// finished, so the monitor only needs to answer "how long since anything
// happened". It can be fooled in both directions: an executor that thinks
// silently looks idle, and unrelated tools writing to the workspace look busy.
package activity

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/filelock"
	"github.com/Iron-Ham/autopilot/internal/logging"
)

// Kind classifies an activity event.
type Kind string

// Event kinds.
const (
	Created        Kind = "created"
	Modified       Kind = "modified"
	Removed        Kind = "removed"
	Renamed        Kind = "renamed"
	FocusChanged   Kind = "focus_changed"
	ProcessStarted Kind = "process_started"
	ProcessStopped Kind = "process_stopped"
)

// Event is one observation of workspace activity. Path is empty for events
// that are not about a file.
type Event struct {
	Kind Kind
	Path string
	At   time.Time
}

// DefaultBufferSize is the capacity of the event channel.
const DefaultBufferSize = 256

// Monitor records the time of the most recent activity event.
type Monitor struct {
	clock  clockwork.Clock
	logger *logging.Logger
	root   string
	events chan Event
	ignore []glob.Glob

	mu       sync.Mutex
	last     time.Time
	overflow time.Time // newest timestamp among events dropped on a full buffer
	dropped  int
}

// Option configures a Monitor.
type Option func(*monitorConfig)

type monitorConfig struct {
	bufferSize  int
	root        string
	patterns    []string
	ignorePaths []string
	logger      *logging.Logger
}

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) Option {
	return func(c *monitorConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithRoot sets the workspace root that ignore patterns are relative to.
func WithRoot(root string) Option {
	return func(c *monitorConfig) {
		c.root = root
	}
}

// WithIgnore adds glob patterns, relative to the root and using '/' as the
// separator, whose matching paths are not counted as activity.
func WithIgnore(patterns ...string) Option {
	return func(c *monitorConfig) {
		c.patterns = append(c.patterns, patterns...)
	}
}

// WithIgnorePaths excludes specific files or directories (and everything
// below them). Paths may be absolute or relative to the root.
func WithIgnorePaths(paths ...string) Option {
	return func(c *monitorConfig) {
		c.ignorePaths = append(c.ignorePaths, paths...)
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *monitorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewMonitor creates a Monitor whose last activity is the current time.
func NewMonitor(clock clockwork.Clock, opts ...Option) (*Monitor, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg := monitorConfig{bufferSize: DefaultBufferSize, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Monitor{
		clock:  clock,
		logger: cfg.logger,
		root:   cfg.root,
		events: make(chan Event, cfg.bufferSize),
		last:   clock.Now(),
	}

	patterns := append([]string(nil), cfg.patterns...)
	for _, p := range cfg.ignorePaths {
		rel := m.relative(p)
		if rel == "" || rel == "." {
			continue
		}
		patterns = append(patterns, sidecarPatterns(rel)...)
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		m.ignore = append(m.ignore, g)
	}
	return m, nil
}

// sidecarPatterns matches rel, everything below it, and the files written
// alongside it while it is updated: the atomic-write temporaries, the lock
// file and SQLite's journals.
func sidecarPatterns(rel string) []string {
	quoted := glob.QuoteMeta(rel)
	dir, _ := path.Split(rel)
	temp := glob.QuoteMeta(dir+filelock.TempPrefix(rel)) + "*" + glob.QuoteMeta(filelock.TempSuffix)
	return []string{
		quoted,
		quoted + "/**",
		temp,
		glob.QuoteMeta(filelock.LockPath(rel)),
		quoted + "-{journal,wal,shm}",
	}
}

// relative maps p to a slash-separated path relative to the root.
func (m *Monitor) relative(p string) string {
	if m.root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(m.root, p); err == nil {
			p = rel
		}
	}
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "./")
}

// Excluded reports whether events for p are ignored.
func (m *Monitor) Excluded(p string) bool {
	if p == "" {
		return false
	}
	rel := m.relative(p)
	for _, g := range m.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Submit records e without blocking. Events for excluded paths are dropped
// and Submit reports false. An event without a timestamp is stamped with the
// current time. When the buffer is full the event is not queued but its
// timestamp still counts.
func (m *Monitor) Submit(e Event) bool {
	if m.Excluded(e.Path) {
		return false
	}
	if e.At.IsZero() {
		e.At = m.clock.Now()
	}

	select {
	case m.events <- e:
	default:
		m.mu.Lock()
		if e.At.After(m.overflow) {
			m.overflow = e.At
		}
		m.dropped++
		m.mu.Unlock()
	}
	return true
}

// drain folds queued events into last. Callers hold mu.
func (m *Monitor) drain() {
	for {
		select {
		case e := <-m.events:
			if e.At.After(m.last) {
				m.last = e.At
			}
		default:
			if m.overflow.After(m.last) {
				m.last = m.overflow
			}
			return
		}
	}
}

// IdleDuration returns the time since the most recent activity.
func (m *Monitor) IdleDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain()
	idle := m.clock.Since(m.last)
	if idle < 0 {
		return 0
	}
	return idle
}

// LastActivity returns the time of the most recent activity.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain()
	return m.last
}

// ResetActivity marks the current time as the most recent activity.
func (m *Monitor) ResetActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain()
	m.last = m.clock.Now()
	if m.dropped > 0 {
		m.logger.Debug("activity events dropped on full buffer", "count", m.dropped)
		m.dropped = 0
	}
}

// Dropped returns how many events overflowed the buffer since the last reset.
func (m *Monitor) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
