// Package internal contains integration tests that run the orchestrator
// against real stores, rules and detectors rather than test doubles.
package internal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/autopilot/internal/completion"
	"github.com/Iron-Ham/autopilot/internal/delegate"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/progress"
	"github.com/Iron-Ham/autopilot/internal/testutil"
	"github.com/Iron-Ham/autopilot/internal/verify"
)

const integrationPlan = `
tasks:
  - id: build
    action: RunCommand
    command: make build
    priority: 1
  - id: docs
    action: CreateFile
    path: docs/README.md
    priority: 2
  - id: review
    action: DelegateWork
    instruction: Review the generated docs.
    priority: 3
`

const integrationRules = `
def verify(task):
    if task.command == "make build":
        return (exists("bin/app"), "binary present")
    return False
`

// asyncExecutor does a task's work in the background and then signals
// through the sentinel, the way a real executor would.
type asyncExecutor struct {
	root string
	wg   sync.WaitGroup
}

func (e *asyncExecutor) Dispatch(_ context.Context, d delegate.Dispatch) error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		time.Sleep(20 * time.Millisecond)
		if d.Task.Action == plan.ActionCreateFile {
			path := filepath.Join(e.root, d.Task.Path)
			_ = os.MkdirAll(filepath.Dir(path), 0755)
			_ = os.WriteFile(path, []byte("# Docs\n"), 0644)
		}
		_ = os.WriteFile(d.SentinelPath, []byte(lease.StateCompleted), 0644)
	}()
	return nil
}

func TestIntegration_SQLiteRunWithRules(t *testing.T) {
	root := testutil.SetupWorkspace(t, map[string]string{
		"plan.yaml":  integrationPlan,
		"rules.star": integrationRules,
		"bin/app":    "ELF",
	})
	stateDir := filepath.Join(root, ".autopilot")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(stateDir, "progress.db")

	store, err := progress.OpenSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	leases := lease.NewStore(filepath.Join(stateDir, "leases"),
		lease.WithPollInterval(5*time.Millisecond),
		lease.WithWaitTimeout(time.Second),
	)
	detector, err := completion.New(completion.StrategySignal, completion.Deps{Leases: leases},
		completion.NewConfig(
			completion.WithPollInterval(5*time.Millisecond),
			completion.WithTimeout(5*time.Second),
			completion.WithMinimumWait(0),
		))
	if err != nil {
		t.Fatalf("completion.New() error = %v", err)
	}
	rules, err := verify.LoadRules(filepath.Join(root, "rules.star"), root)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	executor := &asyncExecutor{root: root}
	defer executor.wg.Wait()

	bus := event.NewBus()
	var (
		mu     sync.Mutex
		events []string
	)
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.EventType())
	})

	orch, err := orchestrator.New(orchestrator.Config{RunID: "integration"}, orchestrator.Deps{
		Leases:   leases,
		Detector: detector,
		Delegate: executor,
		Verifier: verify.New(root, verify.WithRules(rules)),
		Bus:      bus,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := orch.Run(ctx, plan.FileSource{Path: filepath.Join(root, "plan.yaml")}, store)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != orchestrator.StateFinished {
		t.Errorf("State = %s, want %s", result.State, orchestrator.StateFinished)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "build" {
		t.Errorf("Skipped = %v, want [build]", result.Skipped)
	}
	if len(result.Completed) != 2 {
		t.Errorf("Completed = %v, want [docs review]", result.Completed)
	}

	// The outcome must survive reopening the database.
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	reopened, err := progress.OpenSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()
	entries, err := reopened.Read()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"build", "docs", "review"} {
		if entries[id].Status != progress.StatusDone {
			t.Errorf("%s = %s, want Done", id, entries[id].Status)
		}
	}
	if entries["build"].Notes != "skipped: binary present" {
		t.Errorf("build notes = %q", entries["build"].Notes)
	}
	if got := testutil.ReadFile(t, filepath.Join(root, "docs", "README.md")); got != "# Docs\n" {
		t.Errorf("docs/README.md = %q", got)
	}

	all, err := leases.List()
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range all {
		if l.State == lease.StateInProgress {
			t.Errorf("lease %s left in progress", l.ID)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	counts := make(map[string]int)
	for _, typ := range events {
		counts[typ]++
	}
	if counts[event.TypeTaskSkipped] != 1 || counts[event.TypeTaskDispatched] != 2 || counts[event.TypeTaskCompleted] != 2 {
		t.Errorf("event counts = %v", counts)
	}
}
