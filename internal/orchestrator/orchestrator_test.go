package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Iron-Ham/autopilot/internal/completion"
	"github.com/Iron-Ham/autopilot/internal/delegate"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/progress"
	"github.com/Iron-Ham/autopilot/internal/testutil"
	"github.com/Iron-Ham/autopilot/internal/verify"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

type staticPlan []plan.Task

func (p staticPlan) Load() ([]plan.Task, error) { return p, nil }

type failingPlan struct{ err error }

func (p failingPlan) Load() ([]plan.Task, error) { return nil, p.err }

// fakeDelegate records dispatches and runs a per-test behaviour. It also
// checks the execution lock: exactly one lease, the dispatched task's, may
// read inprogress while a task is being handed over.
type fakeDelegate struct {
	t      *testing.T
	leases *lease.Store
	act    func(d delegate.Dispatch) error

	mu         sync.Mutex
	dispatched []string
}

func (f *fakeDelegate) Dispatch(_ context.Context, d delegate.Dispatch) error {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, d.Task.ID)
	f.mu.Unlock()

	all, err := f.leases.List()
	if err != nil {
		f.t.Errorf("List() error = %v", err)
	}
	var active []string
	for _, l := range all {
		if l.State == lease.StateInProgress {
			active = append(active, l.ID)
		}
	}
	if len(active) != 1 || active[0] != d.Task.ID {
		f.t.Errorf("leases in progress at dispatch of %s = %v, want only [%s]", d.Task.ID, active, d.Task.ID)
	}
	if d.SentinelPath != f.leases.Path(d.Task.ID) {
		f.t.Errorf("SentinelPath = %q, want %q", d.SentinelPath, f.leases.Path(d.Task.ID))
	}

	if f.act == nil {
		return nil
	}
	return f.act(d)
}

func (f *fakeDelegate) Dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched...)
}

// scriptedConfirmer answers stale-lease prompts from a script and records
// the warnings it was shown.
type scriptedConfirmer struct {
	mu       sync.Mutex
	answers  []bool
	warnings []*errors.StaleLeaseWarning
}

func (c *scriptedConfirmer) ConfirmStaleLease(_ context.Context, w *errors.StaleLeaseWarning) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, w)
	if len(c.answers) == 0 {
		return false, nil
	}
	answer := c.answers[0]
	c.answers = c.answers[1:]
	return answer, nil
}

// refusingStore fails every update to one status.
type refusingStore struct {
	progress.Store
	refuse progress.Status
}

func (s refusingStore) Update(id string, status progress.Status, notes string) error {
	if status == s.refuse {
		return fmt.Errorf("disk full")
	}
	return s.Store.Update(id, status, notes)
}

// busyActivity never goes idle.
type busyActivity struct{}

func (busyActivity) ResetActivity()              {}
func (busyActivity) IdleDuration() time.Duration { return 0 }

// perform carries out a task's effects in root and signals completion the
// way a cooperative executor would.
func perform(root string) func(d delegate.Dispatch) error {
	return func(d delegate.Dispatch) error {
		switch d.Task.Action {
		case plan.ActionRunCommand:
			dir := strings.TrimSpace(strings.TrimPrefix(d.Task.Command, "mkdir"))
			if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
				return err
			}
		case plan.ActionCreateFile:
			if err := os.WriteFile(filepath.Join(root, d.Task.Path), []byte("hello\n"), 0644); err != nil {
				return err
			}
		}
		return os.WriteFile(d.SentinelPath, []byte("completed"), 0644)
	}
}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

type harness struct {
	t        *testing.T
	root     string
	clock    *clockwork.FakeClock
	leases   *lease.Store
	store    *progress.MarkdownStore
	delegate *fakeDelegate

	mu     sync.Mutex
	events []event.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	leases := lease.NewStore(filepath.Join(root, ".autopilot", "leases"),
		lease.WithClock(clock),
		lease.WithPollInterval(time.Second),
		lease.WithWaitTimeout(30*time.Second),
	)
	return &harness{
		t:        t,
		root:     root,
		clock:    clock,
		leases:   leases,
		store:    progress.NewMarkdownStore(filepath.Join(root, "PROGRESS.md"), progress.WithClock(clock)),
		delegate: &fakeDelegate{t: t, leases: leases},
	}
}

func (h *harness) signalDetector(timeout time.Duration) completion.Detector {
	cfg := completion.NewConfig(
		completion.WithPollInterval(time.Second),
		completion.WithTimeout(timeout),
		completion.WithMinimumWait(0),
	)
	return completion.NewSignal(h.leases, h.clock, cfg, nil)
}

func (h *harness) orchestrator(cfg Config, deps Deps) *Orchestrator {
	h.t.Helper()
	deps.Leases = h.leases
	deps.Delegate = h.delegate
	deps.Progress = h.store
	deps.Clock = h.clock
	if deps.Detector == nil {
		deps.Detector = h.signalDetector(10 * time.Second)
	}
	if deps.Verifier == nil {
		deps.Verifier = verify.New(h.root)
	}
	if cfg.RunID == "" {
		cfg.RunID = "run-test"
	}
	o, err := New(cfg, deps)
	if err != nil {
		h.t.Fatalf("New() error = %v", err)
	}
	o.Bus().SubscribeAll(func(e event.Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	return o
}

func (h *harness) run(ctx context.Context, o *Orchestrator, src PlanSource) (*Result, error) {
	h.t.Helper()
	var (
		res *Result
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = o.Run(ctx, src, h.store)
	}()
	testutil.DriveClock(h.t, h.clock, time.Second, done)
	<-done
	return res, err
}

func (h *harness) entries() map[string]progress.Entry {
	h.t.Helper()
	entries, err := h.store.Read()
	if err != nil {
		h.t.Fatalf("Read() error = %v", err)
	}
	return entries
}

func (h *harness) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var types []string
	for _, e := range h.events {
		if e.EventType() != event.TypeRunState {
			types = append(types, e.EventType())
		}
	}
	return types
}

func examplePlan(t *testing.T) []plan.Task {
	t.Helper()
	tasks, err := plan.Parse([]byte(`
tasks:
  - id: 1
    action: RunCommand
    command: mkdir out
  - id: 2
    action: CreateFile
    path: out/a.txt
`), "plan.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return tasks
}

// -----------------------------------------------------------------------------
// Scenarios
// -----------------------------------------------------------------------------

func TestRun_ExamplePlan(t *testing.T) {
	h := newHarness(t)
	h.delegate.act = perform(h.root)
	o := h.orchestrator(Config{MaxIterations: 2}, Deps{})

	res, err := h.run(context.Background(), o, staticPlan(examplePlan(t)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateFinished {
		t.Errorf("State = %s, want %s", res.State, StateFinished)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}

	entries := h.entries()
	for _, id := range []string{"1", "2"} {
		if entries[id].Status != progress.StatusDone {
			t.Errorf("task %s status = %s, want Done", id, entries[id].Status)
		}
		if got := h.leases.Status(id); got != lease.StateCompleted {
			t.Errorf("task %s lease = %s, want completed", id, got)
		}
	}
	if got := h.delegate.Dispatched(); len(got) != 2 {
		t.Errorf("dispatched = %v, want [1 2]", got)
	}
	if _, err := os.Stat(filepath.Join(h.root, "out", "a.txt")); err != nil {
		t.Errorf("out/a.txt missing: %v", err)
	}

	want := []string{
		event.TypeTaskDispatched, event.TypeTaskCompleted,
		event.TypeTaskDispatched, event.TypeTaskCompleted,
	}
	if got := h.eventTypes(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRun_ExamplePlanWithExistingDirectory(t *testing.T) {
	h := newHarness(t)
	if err := os.Mkdir(filepath.Join(h.root, "out"), 0755); err != nil {
		t.Fatal(err)
	}
	h.delegate.act = perform(h.root)
	o := h.orchestrator(Config{MaxIterations: 2}, Deps{})

	res, err := h.run(context.Background(), o, staticPlan(examplePlan(t)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries := h.entries()
	if entries["1"].Status != progress.StatusDone || !strings.HasPrefix(entries["1"].Notes, "skipped: ") {
		t.Errorf("task 1 = %+v, want Done with skip note", entries["1"])
	}
	if entries["2"].Status != progress.StatusDone {
		t.Errorf("task 2 status = %s, want Done", entries["2"].Status)
	}
	if got := h.delegate.Dispatched(); len(got) != 1 || got[0] != "2" {
		t.Errorf("dispatched = %v, want [2]", got)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "1" {
		t.Errorf("Skipped = %v, want [1]", res.Skipped)
	}
	if got := h.leases.Status("1"); got != lease.StateNone {
		t.Errorf("skipped task lease = %s, want none", got)
	}
}

func TestRun_SignalTimeout(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(Config{MaxIterations: 1}, Deps{})
	tasks := staticPlan{{ID: "5", Action: plan.ActionDelegateWork, Instruction: "refactor the parser"}}

	res, err := h.run(context.Background(), o, tasks)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StatePaused {
		t.Errorf("State = %s, want %s", res.State, StatePaused)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "5" {
		t.Errorf("Failed = %v, want [5]", res.Failed)
	}

	entry := h.entries()["5"]
	if entry.Status != progress.StatusFailed {
		t.Errorf("status = %s, want Failed", entry.Status)
	}
	if !strings.HasPrefix(entry.Notes, "timed out") {
		t.Errorf("notes = %q, want timed out prefix", entry.Notes)
	}
	if got := h.leases.Status("5"); got != lease.StateCompleted {
		t.Errorf("lease = %s, want completed", got)
	}
}

func TestRun_HeuristicStrategy(t *testing.T) {
	tests := []struct {
		name     string
		activity completion.ActivitySource
		wantNote string
	}{
		{
			name:     "idle after dispatch",
			activity: &idleActivity{},
			wantNote: "",
		},
		{
			name:     "never idle",
			activity: busyActivity{},
			wantNote: assumedNote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if ia, ok := tt.activity.(*idleActivity); ok {
				ia.clock = h.clock
			}
			cfg := completion.NewConfig(
				completion.WithPollInterval(time.Second),
				completion.WithTimeout(20*time.Second),
				completion.WithMinimumWait(2*time.Second),
				completion.WithIdleThreshold(5*time.Second),
			)
			o := h.orchestrator(Config{MaxIterations: 1}, Deps{
				Detector: completion.NewHeuristic(tt.activity, h.clock, cfg, nil),
			})

			res, err := h.run(context.Background(), o, staticPlan{{ID: "7", Action: plan.ActionDelegateWork, Instruction: "x"}})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.State != StateFinished {
				t.Errorf("State = %s, want %s", res.State, StateFinished)
			}
			entry := h.entries()["7"]
			if entry.Status != progress.StatusDone || entry.Notes != tt.wantNote {
				t.Errorf("entry = %+v, want Done with notes %q", entry, tt.wantNote)
			}
		})
	}
}

// idleActivity reports idleness measured from the last reset.
type idleActivity struct {
	clock clockwork.Clock
	mu    sync.Mutex
	last  time.Time
}

func (a *idleActivity) ResetActivity() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = a.clock.Now()
}

func (a *idleActivity) IdleDuration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clock.Since(a.last)
}

func TestRun_DispatchFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.delegate.act = func(d delegate.Dispatch) error {
		return fmt.Errorf("executable not found")
	}
	o := h.orchestrator(Config{MaxIterations: 3}, Deps{})
	tasks := staticPlan{
		{ID: "a", Action: plan.ActionDelegateWork, Instruction: "first", Order: 0},
		{ID: "b", Action: plan.ActionDelegateWork, Instruction: "second", Order: 1},
	}

	res, err := h.run(context.Background(), o, tasks)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StatePaused {
		t.Errorf("State = %s, want %s", res.State, StatePaused)
	}
	// The lowest-order unfinished task is retried until the budget runs out.
	if want := []string{"a", "a", "a"}; strings.Join(res.Failed, ",") != strings.Join(want, ",") {
		t.Errorf("Failed = %v, want %v", res.Failed, want)
	}

	entries := h.entries()
	if entries["a"].Status != progress.StatusFailed || !strings.Contains(entries["a"].Notes, "executable not found") {
		t.Errorf("task a = %+v, want Failed with dispatch error", entries["a"])
	}
	if got := h.leases.Status("a"); got != lease.StateCompleted {
		t.Errorf("task a lease = %s, want completed", got)
	}
	if _, ok := entries["b"]; ok {
		t.Errorf("task b recorded as %+v, want untouched", entries["b"])
	}
	if types := h.eventTypes(); len(types) != 3 || types[0] != event.TypeTaskFailed {
		t.Errorf("events = %v, want three task.failed", types)
	}
}

func TestRun_DispatchErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantNote    string
		wantWrapped bool
	}{
		{"plain error is wrapped", fmt.Errorf("exec format error"), "dispatch failed", true},
		{"task error kept", errors.NewTaskError("agent refused", nil), "agent refused", false},
		{"timeout kept", errors.NewTimeoutError("spawn agent", 5*time.Second), "timed out", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.delegate.act = func(delegate.Dispatch) error { return tt.err }
			o := h.orchestrator(Config{MaxIterations: 1}, Deps{})

			if _, err := h.run(context.Background(), o, staticPlan{{ID: "a", Action: plan.ActionDelegateWork, Instruction: "x"}}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			notes := h.entries()["a"].Notes
			if !strings.Contains(notes, tt.wantNote) {
				t.Errorf("notes = %q, want it to contain %q", notes, tt.wantNote)
			}
			if got := strings.Contains(notes, "dispatch failed"); got != tt.wantWrapped {
				t.Errorf("wrapped = %v, want %v (notes %q)", got, tt.wantWrapped, notes)
			}
		})
	}
}

func TestRun_ProgressWriteFailureReleasesLease(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(Config{MaxIterations: 1}, Deps{})
	sink := refusingStore{Store: h.store, refuse: progress.StatusInProgress}

	var (
		res *Result
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = o.Run(context.Background(), staticPlan{{ID: "a", Action: plan.ActionDelegateWork, Instruction: "x"}}, sink)
	}()
	testutil.DriveClock(t, h.clock, time.Second, done)
	<-done

	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run() error = %v, want the progress write failure", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %s, want %s", res.State, StateFailed)
	}
	if got := h.delegate.Dispatched(); len(got) != 0 {
		t.Errorf("dispatched = %v, want none", got)
	}
	if got := h.leases.Status("a"); got != lease.StateNone {
		t.Errorf("lease = %s, want none", got)
	}
	if id, ok, _ := h.leases.ActiveID(); ok {
		t.Errorf("ActiveID() = %s, want no lease in progress", id)
	}
}

func TestRun_RetriesFailedTask(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Update("a", progress.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Update("a", progress.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	h.delegate.act = perform(h.root)
	o := h.orchestrator(Config{MaxIterations: 1}, Deps{})

	_, err := h.run(context.Background(), o, staticPlan{{ID: "a", Action: plan.ActionDelegateWork, Instruction: "x"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := h.entries()["a"].Status; got != progress.StatusDone {
		t.Errorf("status = %s, want Done", got)
	}
}

func TestRun_SchedulesLowestOrder(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Update("first", progress.StatusDone, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Update("second", progress.StatusSkipped, "manual"); err != nil {
		t.Fatal(err)
	}
	h.delegate.act = perform(h.root)
	o := h.orchestrator(Config{MaxIterations: 10}, Deps{})

	// Document order differs from priority order.
	tasks := staticPlan{
		{ID: "late", Action: plan.ActionDelegateWork, Instruction: "x", Order: 4},
		{ID: "first", Action: plan.ActionDelegateWork, Instruction: "x", Order: 0},
		{ID: "third", Action: plan.ActionDelegateWork, Instruction: "x", Order: 2},
		{ID: "second", Action: plan.ActionDelegateWork, Instruction: "x", Order: 1},
		{ID: "fourth", Action: plan.ActionDelegateWork, Instruction: "x", Order: 3},
	}
	if _, err := h.run(context.Background(), o, tasks); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"third", "fourth", "late"}
	if got := h.delegate.Dispatched(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
}

func TestNext(t *testing.T) {
	tasks := []plan.Task{
		{ID: "c", Order: 2},
		{ID: "a", Order: 0},
		{ID: "b", Order: 1},
	}
	tests := []struct {
		name    string
		entries map[string]progress.Entry
		want    string
		wantOK  bool
	}{
		{"empty progress", nil, "a", true},
		{"first done", map[string]progress.Entry{"a": {Status: progress.StatusDone}}, "b", true},
		{"failed is retried", map[string]progress.Entry{"a": {Status: progress.StatusFailed}}, "a", true},
		{"in progress is retried", map[string]progress.Entry{"a": {Status: progress.StatusInProgress}}, "a", true},
		{"skipped passes", map[string]progress.Entry{
			"a": {Status: progress.StatusSkipped},
			"b": {Status: progress.StatusDone},
		}, "c", true},
		{"all complete", map[string]progress.Entry{
			"a": {Status: progress.StatusDone},
			"b": {Status: progress.StatusSkipped},
			"c": {Status: progress.StatusDone},
		}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := next(tasks, tt.entries)
			if ok != tt.wantOK || got.ID != tt.want {
				t.Errorf("next() = %q, %v; want %q, %v", got.ID, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Crash recovery
// -----------------------------------------------------------------------------

// crashDuring dispatches normally but cancels the run as soon as task id is
// handed over, leaving its lease in progress as a killed process would.
func crashDuring(id string, cancel context.CancelFunc, otherwise func(delegate.Dispatch) error) func(delegate.Dispatch) error {
	return func(d delegate.Dispatch) error {
		if d.Task.ID == id {
			cancel()
			return nil
		}
		return otherwise(d)
	}
}

func TestRun_ResumeAfterCrash(t *testing.T) {
	h := newHarness(t)
	tasks := staticPlan{
		{ID: "a", Action: plan.ActionDelegateWork, Instruction: "x", Order: 0},
		{ID: "b", Action: plan.ActionDelegateWork, Instruction: "y", Order: 1},
		{ID: "c", Action: plan.ActionDelegateWork, Instruction: "z", Order: 2},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.delegate.act = crashDuring("b", cancel, perform(h.root))
	first := h.orchestrator(Config{MaxIterations: 10}, Deps{})

	res, err := h.run(ctx, first, tasks)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if !res.Cancelled || res.State != StateCancelled {
		t.Fatalf("first run = %+v, want cancelled", res)
	}
	if got := h.leases.Status("b"); got != lease.StateInProgress {
		t.Fatalf("lease b = %s, want inprogress after crash", got)
	}
	if got := h.entries()["b"].Status; got != progress.StatusInProgress {
		t.Fatalf("progress b = %s, want InProgress after crash", got)
	}

	// A declined prompt aborts without touching state.
	decline := &scriptedConfirmer{answers: []bool{false}}
	h.delegate.act = perform(h.root)
	second := h.orchestrator(Config{MaxIterations: 10}, Deps{Confirmer: decline})
	before := len(h.delegate.Dispatched())

	res, err = h.run(context.Background(), second, tasks)
	if !errors.Is(err, errors.ErrStaleLease) {
		t.Fatalf("second Run() error = %v, want ErrStaleLease", err)
	}
	if res.State != StateFailed {
		t.Errorf("second State = %s, want %s", res.State, StateFailed)
	}
	if len(decline.warnings) != 1 {
		t.Fatalf("confirmer prompted %d times, want 1", len(decline.warnings))
	}
	w := decline.warnings[0]
	if w.TaskID != "b" || w.ProgressStatus != string(progress.StatusInProgress) || w.LeasePath != h.leases.Path("b") {
		t.Errorf("warning = %+v", w)
	}
	if got := h.leases.Status("b"); got != lease.StateInProgress {
		t.Errorf("lease b = %s after declined prompt, want inprogress", got)
	}
	if got := len(h.delegate.Dispatched()); got != before {
		t.Errorf("declined run dispatched %d tasks", got-before)
	}

	// Accepting clears the lease and the run resumes at b.
	accept := &scriptedConfirmer{answers: []bool{true}}
	third := h.orchestrator(Config{MaxIterations: 10}, Deps{Confirmer: accept})

	res, err = h.run(context.Background(), third, tasks)
	if err != nil {
		t.Fatalf("third Run() error = %v", err)
	}
	if res.State != StateFinished {
		t.Errorf("third State = %s, want %s", res.State, StateFinished)
	}
	want := []string{"a", "b", "b", "c"}
	if got := h.delegate.Dispatched(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatch history = %v, want %v", got, want)
	}
	for _, id := range []string{"a", "b", "c"} {
		if got := h.entries()[id].Status; got != progress.StatusDone {
			t.Errorf("task %s = %s, want Done", id, got)
		}
	}
}

func TestRun_RepeatedCrashesKeepOneLease(t *testing.T) {
	h := newHarness(t)
	var tasks staticPlan
	for i := range 4 {
		tasks = append(tasks, plan.Task{
			ID:          fmt.Sprintf("t%d", i),
			Action:      plan.ActionDelegateWork,
			Instruction: "x",
			Order:       i,
		})
	}

	// Crash on every task once; each restart accepts recovery. The fake
	// delegate fails the test if two leases are ever in progress.
	for _, crash := range []string{"t0", "t1", "t2", "t3"} {
		ctx, cancel := context.WithCancel(context.Background())
		h.delegate.act = crashDuring(crash, cancel, perform(h.root))
		o := h.orchestrator(Config{MaxIterations: 10}, Deps{Confirmer: AutoConfirm(true)})
		res, err := h.run(ctx, o, tasks)
		cancel()
		if err != nil {
			t.Fatalf("run crashing at %s: %v", crash, err)
		}
		if !res.Cancelled {
			t.Fatalf("run crashing at %s was not cancelled: %+v", crash, res)
		}
	}

	h.delegate.act = perform(h.root)
	o := h.orchestrator(Config{MaxIterations: 10}, Deps{Confirmer: AutoConfirm(true)})
	res, err := h.run(context.Background(), o, tasks)
	if err != nil {
		t.Fatalf("final Run() error = %v", err)
	}
	if res.State != StateFinished {
		t.Errorf("State = %s, want %s", res.State, StateFinished)
	}
	if id, ok, _ := h.leases.ActiveID(); ok {
		t.Errorf("lease %s still in progress after a clean run", id)
	}
}

// -----------------------------------------------------------------------------
// Command surface
// -----------------------------------------------------------------------------

func TestRun_PlanError(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(Config{}, Deps{})

	res, err := h.run(context.Background(), o, failingPlan{err: errors.NewParseError("plan.yaml", "no tasks")})
	if !errors.Is(err, errors.ErrPlanInvalid) {
		t.Fatalf("Run() error = %v, want ErrPlanInvalid", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %s, want %s", res.State, StateFailed)
	}
	if got := h.delegate.Dispatched(); len(got) != 0 {
		t.Errorf("dispatched = %v, want none", got)
	}
	if st := o.Status(); st.LastError == "" || st.Running {
		t.Errorf("Status() = %+v, want stopped with last error", st)
	}
}

// startBlocked starts a run whose single task never signals and waits until
// the orchestrator is awaiting its completion. The fake clock is never
// advanced, so the run stays there until stopped.
func startBlocked(t *testing.T, h *harness) *Orchestrator {
	t.Helper()
	o := h.orchestrator(Config{MaxIterations: 3}, Deps{Detector: h.signalDetector(time.Hour)})

	waiting := make(chan struct{})
	var once sync.Once
	o.Bus().Subscribe(event.TypeRunState, func(e event.Event) {
		if e.(event.RunStateEvent).To == string(StateAwaitingCompletion) {
			once.Do(func() { close(waiting) })
		}
	})

	tasks := staticPlan{
		{ID: "long", Action: plan.ActionDelegateWork, Instruction: "x", Order: 0},
		{ID: "other", Action: plan.ActionDelegateWork, Instruction: "y", Order: 1},
	}
	if !o.Start(context.Background(), tasks, h.store) {
		t.Fatal("Start() = false, want true")
	}
	select {
	case <-waiting:
	case <-time.After(10 * time.Second):
		t.Fatal("run never reached AwaitingCompletion")
	}
	return o
}

func TestOrchestrator_CommandSurface(t *testing.T) {
	h := newHarness(t)
	o := startBlocked(t, h)

	if o.Start(context.Background(), staticPlan{}, h.store) {
		t.Error("second Start() = true, want false while running")
	}

	st := o.Status()
	if !st.Running || st.State != StateAwaitingCompletion || st.CurrentTask != "long" || st.Iteration != 1 {
		t.Errorf("Status() = %+v", st)
	}
	if st.Summary.Total() != 2 || st.Summary.Pending != 2 {
		t.Errorf("Summary = %+v, want two pending", st.Summary)
	}

	if err := o.ResetTask("long"); !errors.Is(err, errors.ErrTaskInFlight) {
		t.Errorf("ResetTask(in flight) error = %v, want ErrTaskInFlight", err)
	}
	if err := o.ResetTask("missing"); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("ResetTask(missing) error = %v, want ErrTaskNotFound", err)
	}
	if err := o.SkipTask("other", "not needed"); err != nil {
		t.Errorf("SkipTask(other) error = %v", err)
	}

	o.Stop()
	o.Stop()

	res, err := o.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !res.Cancelled || res.State != StateCancelled {
		t.Errorf("result = %+v, want cancelled", res)
	}
	if got := h.leases.Status("long"); got != lease.StateInProgress {
		t.Errorf("lease = %s, want inprogress after cancellation", got)
	}
	entries := h.entries()
	if got := entries["long"].Status; got != progress.StatusInProgress {
		t.Errorf("progress = %s, want InProgress (nothing recorded on cancel)", got)
	}
	if got := entries["other"]; got.Status != progress.StatusSkipped || got.Notes != "skipped manually: not needed" {
		t.Errorf("other = %+v, want manual skip", got)
	}
	if st := o.Status(); st.Running || st.State != StateCancelled {
		t.Errorf("Status() after stop = %+v", st)
	}

	// With the run over, the interrupted task may be reset.
	if err := o.ResetTask("long"); err != nil {
		t.Fatalf("ResetTask() error = %v", err)
	}
	if err := o.ResetTask("long"); err != nil {
		t.Fatalf("second ResetTask() error = %v", err)
	}
	if got := h.entries()["long"]; got.Status != progress.StatusPending || got.Notes != "" {
		t.Errorf("after reset = %+v, want Pending without notes", got)
	}
	if got := h.leases.Status("long"); got != lease.StateNone {
		t.Errorf("lease after reset = %s, want none", got)
	}
}

func TestOrchestrator_WaitBeforeStart(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(Config{}, Deps{})

	if _, err := o.Wait(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Wait() error = %v, want ErrNotStarted", err)
	}
	o.Stop()
	if st := o.Status(); st.State != StateIdle || st.RunID != "run-test" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestOrchestrator_SkipFromTerminal(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Update("a", progress.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Update("a", progress.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	o := h.orchestrator(Config{}, Deps{})

	if err := o.SkipTask("a", ""); err != nil {
		t.Fatalf("SkipTask() error = %v", err)
	}
	got := h.entries()["a"]
	if got.Status != progress.StatusSkipped || got.Notes != "skipped manually" {
		t.Errorf("entry = %+v, want Skipped", got)
	}
	if types := h.eventTypes(); len(types) != 1 || types[0] != event.TypeTaskSkipped {
		t.Errorf("events = %v, want one task.skipped", types)
	}
}

func TestNew_RequiresLeases(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Error("New() without leases succeeded")
	}
}

func TestRun_MissingCollaborators(t *testing.T) {
	h := newHarness(t)
	o, err := New(Config{}, Deps{Leases: h.leases, Clock: h.clock})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := o.Run(context.Background(), staticPlan{}, h.store)
	if err == nil || res.State != StateFailed {
		t.Errorf("Run() = %+v, %v; want failure", res, err)
	}
}
