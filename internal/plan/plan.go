// Package plan loads the declarative task plan an autopilot run works through.
//
// A plan is a YAML (or JSON) document with a top-level tasks list. Loading is
// all-or-nothing: the document is checked against an embedded CUE schema, then
// every task's required payload is checked, and any violation rejects the
// whole plan with a *errors.ParseError. Loading has no side effects.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

// Action is the kind of work a task describes.
type Action string

// Supported actions.
const (
	ActionRunCommand   Action = "RunCommand"
	ActionCreateFile   Action = "CreateFile"
	ActionDelegateWork Action = "DelegateWork"
)

// Actions returns every supported action in a stable order.
func Actions() []Action {
	return []Action{ActionRunCommand, ActionCreateFile, ActionDelegateWork}
}

// ParseAction maps a document spelling to an Action. Both the canonical
// names and their snake_case forms are accepted.
func ParseAction(s string) (Action, bool) {
	switch strings.TrimSpace(s) {
	case "RunCommand", "run_command":
		return ActionRunCommand, true
	case "CreateFile", "create_file":
		return ActionCreateFile, true
	case "DelegateWork", "delegate_work":
		return ActionDelegateWork, true
	default:
		return "", false
	}
}

// PayloadField returns the document field that carries this action's payload.
func (a Action) PayloadField() string {
	switch a {
	case ActionRunCommand:
		return "command"
	case ActionCreateFile:
		return "path"
	case ActionDelegateWork:
		return "instruction"
	default:
		return ""
	}
}

// Task is one unit of work. Tasks are immutable once loaded.
type Task struct {
	ID          string
	Phase       string
	Action      Action
	Command     string
	Path        string
	Instruction string
	Description string
	Priority    int
	// Order is the task's position after priority ordering.
	Order int
}

// Payload returns the action-specific payload.
func (t Task) Payload() string {
	switch t.Action {
	case ActionRunCommand:
		return t.Command
	case ActionCreateFile:
		return t.Path
	case ActionDelegateWork:
		return t.Instruction
	default:
		return ""
	}
}

// Title returns a one-line label for display: the description when present,
// otherwise the payload.
func (t Task) Title() string {
	title := t.Description
	if title == "" {
		title = t.Payload()
	}
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return title
}

// Find returns the task with the given id.
func Find(tasks []Task, id string) (Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Load reads and parses the plan document at path.
func Load(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewParseError(path, "plan file not found").WithCause(err)
		}
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(data, filepath.Base(path))
}

// FileSource loads the plan from a file each time Load is called.
type FileSource struct {
	Path string
}

// Load implements the orchestrator's plan source.
func (s FileSource) Load() ([]Task, error) {
	return Load(s.Path)
}
