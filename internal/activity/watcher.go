package activity

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/autopilot/internal/logging"
)

// DefaultSkipDirs are directory names the watcher never descends into.
var DefaultSkipDirs = []string{".git", "node_modules", ".DS_Store"}

// Watcher feeds filesystem changes under a workspace root into a Monitor.
// fsnotify only watches single directories, so the watcher adds every
// subdirectory up front and each new one as it is created.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	monitor  *Monitor
	skipDirs []string
	logger   *logging.Logger

	closeOnce sync.Once
	closeErr  error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSkipDirs adds directory names to skip while walking the root.
func WithSkipDirs(names ...string) WatcherOption {
	return func(w *Watcher) {
		w.skipDirs = append(w.skipDirs, names...)
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher starts watching root and every directory below it.
func NewWatcher(root string, monitor *Monitor, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		root:     root,
		monitor:  monitor,
		skipDirs: append([]string(nil), DefaultSkipDirs...),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w.watchDirRecursive(root)
	return w, nil
}

func (w *Watcher) skip(path string) bool {
	if path == w.root {
		return false
	}
	return slices.Contains(w.skipDirs, filepath.Base(path)) || w.monitor.Excluded(path)
}

// watchDirRecursive adds dir and its subdirectories. Unreadable entries are
// skipped.
func (w *Watcher) watchDirRecursive(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skip(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func kindOf(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	case op.Has(fsnotify.Remove):
		return Removed, true
	case op.Has(fsnotify.Rename):
		return Renamed, true
	default:
		return "", false
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	kind, ok := kindOf(event.Op)
	if !ok {
		return
	}
	if kind == Created {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.skip(event.Name) {
			w.watchDirRecursive(event.Name)
		}
	}
	w.monitor.Submit(Event{Kind: kind, Path: event.Name})
}

// Run forwards events until ctx is done or the watcher is closed. It returns
// nil in both cases.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.watcher.Close()
	})
	return w.closeErr
}
