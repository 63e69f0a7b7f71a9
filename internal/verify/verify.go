// Package verify decides whether a task's work is already present in the
// workspace, so the orchestrator can skip re-dispatching it.
//
// Verification is best-effort and errs toward "not satisfied": a task is only
// skipped on positive evidence. Delegated work is never verified.
package verify

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/plan"
)

// Result is the outcome of verifying one task.
type Result struct {
	Satisfied bool
	Reason    string
}

// Predicate checks one task against the workspace. An error counts as not
// satisfied.
type Predicate func(ctx context.Context, task plan.Task) (Result, error)

// Verifier runs the predicates registered for each action kind.
type Verifier struct {
	root       string
	predicates map[plan.Action][]Predicate
	logger     *logging.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithPredicate registers p for action after the built-in predicate.
// Predicates for DelegateWork are ignored.
func WithPredicate(action plan.Action, p Predicate) Option {
	return func(v *Verifier) {
		if action == plan.ActionDelegateWork || p == nil {
			return
		}
		v.predicates[action] = append(v.predicates[action], p)
	}
}

// WithRules registers p for every action that can be verified.
func WithRules(p Predicate) Option {
	return func(v *Verifier) {
		WithPredicate(plan.ActionRunCommand, p)(v)
		WithPredicate(plan.ActionCreateFile, p)(v)
	}
}

// WithLogger sets the verifier's logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// New returns a Verifier for the workspace at root with the built-in
// predicates registered.
func New(root string, opts ...Option) *Verifier {
	v := &Verifier{
		root:       root,
		predicates: make(map[plan.Action][]Predicate),
		logger:     logging.NopLogger(),
	}
	v.predicates[plan.ActionCreateFile] = []Predicate{v.createFile}
	v.predicates[plan.ActionRunCommand] = []Predicate{v.runCommand}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Root returns the workspace root.
func (v *Verifier) Root() string {
	return v.root
}

// Verify reports whether task's effects are already present. Predicates run
// in registration order and the first satisfied result wins.
func (v *Verifier) Verify(ctx context.Context, task plan.Task) Result {
	if task.Action == plan.ActionDelegateWork {
		return Result{Reason: "delegated work cannot be verified"}
	}
	preds := v.predicates[task.Action]
	if len(preds) == 0 {
		return Result{Reason: "no verifier for action " + string(task.Action)}
	}

	var reasons []string
	for _, p := range preds {
		if ctx.Err() != nil {
			return Result{Reason: "verification cancelled"}
		}
		res, err := p(ctx, task)
		if err != nil {
			v.logger.Debug("verification predicate failed", "task_id", task.ID, "error", err)
			reasons = append(reasons, err.Error())
			continue
		}
		if res.Satisfied {
			return res
		}
		if res.Reason != "" {
			reasons = append(reasons, res.Reason)
		}
	}
	return Result{Reason: strings.Join(reasons, "; ")}
}

// resolve maps a task path to a location inside the workspace.
func (v *Verifier) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(v.root, p)
}
