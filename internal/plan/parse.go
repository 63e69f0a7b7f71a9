package plan

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error
	// cue.Context is not safe for concurrent use.
	schemaMu sync.Mutex
)

// planSchema compiles the embedded schema once and returns the #Plan definition.
func planSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		root := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := root.Err(); err != nil {
			schemaErr = fmt.Errorf("compile plan schema: %w", err)
			return
		}
		schemaValue = root.LookupPath(cue.ParsePath("#Plan"))
		schemaErr = schemaValue.Err()
	})
	return schemaCtx, schemaValue, schemaErr
}

// scalar accepts any YAML scalar and keeps its text, so ids may be written
// as numbers or strings.
type scalar string

func (s *scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	*s = scalar(node.Value)
	return nil
}

type rawTask struct {
	ID          scalar `yaml:"id"`
	Phase       string `yaml:"phase"`
	Action      string `yaml:"action"`
	Command     string `yaml:"command"`
	Path        string `yaml:"path"`
	Instruction string `yaml:"instruction"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`
}

type rawPlan struct {
	Tasks []rawTask `yaml:"tasks"`
}

// Parse parses a plan document. name identifies the document in errors.
func Parse(data []byte, name string) ([]Task, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, errors.NewParseError(name, "plan document is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewParseError(name, "invalid YAML").WithCause(err)
	}
	top, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.NewParseError(name, "plan must be a mapping with a tasks list")
	}
	if _, ok := top["tasks"]; !ok {
		return nil, errors.NewParseError(name, "plan has no tasks list").WithField("tasks")
	}

	if err := validateSchema(top, name); err != nil {
		return nil, err
	}

	var raw rawPlan
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewParseError(name, "invalid plan").WithCause(err)
	}

	tasks := make([]Task, 0, len(raw.Tasks))
	seen := make(map[string]int, len(raw.Tasks))
	for i, rt := range raw.Tasks {
		task, err := convert(rt, name, i)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[task.ID]; dup {
			return nil, errors.NewParseError(name, fmt.Sprintf("duplicate id (also task #%d)", prev+1)).
				WithTaskID(task.ID).WithField("id")
		}
		seen[task.ID] = i
		tasks = append(tasks, task)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority < tasks[j].Priority
	})
	for i := range tasks {
		tasks[i].Order = i
	}
	return tasks, nil
}

func convert(rt rawTask, name string, index int) (Task, error) {
	raw := string(rt.ID)
	id := strings.TrimSpace(raw)
	if id == "" {
		return Task{}, errors.NewParseError(name, fmt.Sprintf("task #%d has no id", index+1)).WithField("id")
	}
	// Ids key progress rows and lease files and must come back unchanged.
	if id != raw || strings.ContainsFunc(id, unicode.IsControl) {
		return Task{}, errors.NewParseError(name,
			fmt.Sprintf("task #%d id %q has surrounding spaces or control characters", index+1, raw)).WithField("id")
	}

	action, ok := ParseAction(rt.Action)
	if !ok {
		return Task{}, errors.NewParseError(name, fmt.Sprintf("unknown action %q", rt.Action)).
			WithTaskID(id).WithField("action")
	}

	task := Task{
		ID:          id,
		Phase:       strings.TrimSpace(rt.Phase),
		Action:      action,
		Command:     strings.TrimSpace(rt.Command),
		Path:        strings.TrimSpace(rt.Path),
		Instruction: strings.TrimSpace(rt.Instruction),
		Description: strings.TrimSpace(rt.Description),
		Priority:    rt.Priority,
	}
	if task.Payload() == "" {
		return Task{}, errors.NewParseError(name, fmt.Sprintf("%s requires a non-empty %s", action, action.PayloadField())).
			WithTaskID(id).WithField(action.PayloadField())
	}
	return task, nil
}

// validateSchema checks the decoded document against #Plan.
func validateSchema(doc map[string]any, name string) error {
	ctx, schema, err := planSchema()
	if err != nil {
		return err
	}
	schemaMu.Lock()
	defer schemaMu.Unlock()

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return errors.NewParseError(name, "plan cannot be represented").WithCause(err)
	}
	err = schema.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	pe := errors.NewParseError(name, "plan does not match schema").WithCause(err)
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		path := errs[0].Path()
		pe.TaskID, pe.Field = locate(doc, path)
	}
	return pe
}

// locate turns a CUE error path like [#Plan tasks 2 action] into the
// offending task's id and field name.
func locate(doc map[string]any, path []string) (taskID, field string) {
	for len(path) > 0 && path[0] != "tasks" {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", ""
	}
	if len(path) > 2 {
		field = path[2]
	}
	if len(path) < 2 {
		return "", "tasks"
	}
	idx, err := strconv.Atoi(path[1])
	if err != nil {
		return "", field
	}
	list, _ := doc["tasks"].([]any)
	if idx < 0 || idx >= len(list) {
		return "", field
	}
	entry, _ := list[idx].(map[string]any)
	if id, ok := entry["id"]; ok && id != nil {
		taskID = fmt.Sprint(id)
	}
	return taskID, field
}
