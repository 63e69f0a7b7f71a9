package verify

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/Iron-Ham/autopilot/internal/plan"
)

// ruleFunc is the function a rules file must define.
const ruleFunc = "verify"

// maxRuleSteps bounds the work a single rule evaluation may do.
const maxRuleSteps = 1_000_000

// LoadRules compiles the Starlark rules file at path into a Predicate.
//
// The file must define verify(task), returning a bool or a (bool, reason)
// tuple. task exposes id, phase, action, command, path, instruction,
// description and priority. The builtins exists(path), is_dir(path),
// size(path) and glob(pattern) resolve paths inside root; size returns -1
// for a missing file.
func LoadRules(path, root string) (Predicate, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return compileRules(path, src, root)
}

func compileRules(name string, src []byte, root string) (Predicate, error) {
	ws := workspace{root: root}
	predeclared := ws.builtins()

	thread := &starlark.Thread{Name: "load " + name}
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, name, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", name, err)
	}
	fn, ok := globals[ruleFunc].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("rules %s: %s(task) is not defined", name, ruleFunc)
	}

	return func(ctx context.Context, task plan.Task) (Result, error) {
		thread := &starlark.Thread{Name: "verify " + task.ID}
		thread.SetMaxExecutionSteps(maxRuleSteps)
		stop := context.AfterFunc(ctx, func() { thread.Cancel("context cancelled") })
		defer stop()

		v, err := starlark.Call(thread, fn, starlark.Tuple{taskValue(task)}, nil)
		if err != nil {
			return Result{}, fmt.Errorf("rule for task %s: %w", task.ID, err)
		}
		return ruleResult(v)
	}, nil
}

func taskValue(t plan.Task) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":          starlark.String(t.ID),
		"phase":       starlark.String(t.Phase),
		"action":      starlark.String(t.Action),
		"command":     starlark.String(t.Command),
		"path":        starlark.String(t.Path),
		"instruction": starlark.String(t.Instruction),
		"description": starlark.String(t.Description),
		"priority":    starlark.MakeInt(t.Priority),
	})
}

func ruleResult(v starlark.Value) (Result, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return Result{Reason: "rule returned None"}, nil
	case starlark.Bool:
		res := Result{Satisfied: bool(v), Reason: "rule returned " + v.String()}
		return res, nil
	case starlark.Tuple:
		if len(v) != 2 {
			return Result{}, fmt.Errorf("rule returned a %d-tuple, want (bool, reason)", len(v))
		}
		ok, isBool := v[0].(starlark.Bool)
		reason, isStr := starlark.AsString(v[1])
		if !isBool || !isStr {
			return Result{}, fmt.Errorf("rule returned (%s, %s), want (bool, string)", v[0].Type(), v[1].Type())
		}
		return Result{Satisfied: bool(ok), Reason: reason}, nil
	default:
		return Result{}, fmt.Errorf("rule returned %s, want bool", v.Type())
	}
}

// workspace implements the rule builtins.
type workspace struct {
	root string
}

func (w workspace) builtins() starlark.StringDict {
	return starlark.StringDict{
		"exists": starlark.NewBuiltin("exists", w.exists),
		"is_dir": starlark.NewBuiltin("is_dir", w.isDir),
		"size":   starlark.NewBuiltin("size", w.size),
		"glob":   starlark.NewBuiltin("glob", w.glob),
	}
}

// resolve maps p into the workspace, rejecting paths that leave it.
func (w workspace) resolve(p string) (string, error) {
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(w.root, p)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(w.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", p)
	}
	return full, nil
}

func (w workspace) pathArg(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, error) {
	var p string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &p); err != nil {
		return "", err
	}
	return w.resolve(p)
}

func (w workspace) exists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	p, err := w.pathArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(p)
	return starlark.Bool(err == nil), nil
}

func (w workspace) isDir(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	p, err := w.pathArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(isDir(p)), nil
}

func (w workspace) size(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	p, err := w.pathArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return starlark.MakeInt(-1), nil
	}
	return starlark.MakeInt64(info.Size()), nil
}

// glob returns the sorted workspace-relative paths matching pattern. The
// pattern uses '/' as separator and supports ** across directories.
func (w workspace) glob(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &pattern); err != nil {
		return nil, err
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	var matches []string
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == w.root {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		if rel = filepath.ToSlash(rel); g.Match(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	elems := make([]starlark.Value, len(matches))
	for i, m := range matches {
		elems[i] = starlark.String(m)
	}
	return starlark.NewList(elems), nil
}
