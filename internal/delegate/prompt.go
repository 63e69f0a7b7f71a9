package delegate

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/autopilot/internal/plan"
)

// defaultTemplates are the built-in prompt templates per action.
var defaultTemplates = map[plan.Action]string{
	plan.ActionRunCommand: `Run the following shell command in the workspace root and make sure it succeeds:

    {{.Task.Command}}
{{template "footer" .}}`,

	plan.ActionCreateFile: `Create the file {{.Task.Path}} in the workspace.
{{- with .Task.Description}}

{{.}}
{{- end}}
{{template "footer" .}}`,

	plan.ActionDelegateWork: `{{.Task.Instruction}}
{{template "footer" .}}`,
}

const footerTemplate = `
{{- if .Task.Phase}}
Phase: {{.Task.Phase}}
{{- end}}

When you have finished this task, signal completion as your very last step by
writing the single word completed to {{.SentinelPath}}, for example:

    printf completed > {{shellQuote .SentinelPath}}

or by running: autopilot complete {{shellQuote .Task.ID}}
`

// PromptData is what prompt templates are rendered with.
type PromptData struct {
	Task         plan.Task
	SentinelPath string
}

// PromptBuilder renders the prompt for a task from its action's template.
type PromptBuilder struct {
	templates map[plan.Action]*template.Template
}

// NewPromptBuilder returns a builder using the built-in templates, replaced
// per action by any entries in overrides.
func NewPromptBuilder(overrides map[plan.Action]string) (*PromptBuilder, error) {
	b := &PromptBuilder{templates: make(map[plan.Action]*template.Template)}
	for _, action := range plan.Actions() {
		text := defaultTemplates[action]
		if o, ok := overrides[action]; ok && strings.TrimSpace(o) != "" {
			text = o
		}
		t, err := template.New(string(action)).
			Funcs(template.FuncMap{"shellQuote": shellQuote}).
			Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt template: %w", action, err)
		}
		if _, err := t.New("footer").Parse(footerTemplate); err != nil {
			return nil, fmt.Errorf("parse prompt footer: %w", err)
		}
		b.templates[action] = t
	}
	return b, nil
}

// LoadPromptTemplates reads template overrides from a YAML mapping of action
// name to template text.
func LoadPromptTemplates(path string) (map[plan.Action]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt templates: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompt templates %s: %w", path, err)
	}
	out := make(map[plan.Action]string, len(raw))
	for name, text := range raw {
		action, ok := plan.ParseAction(name)
		if !ok {
			return nil, fmt.Errorf("prompt templates %s: unknown action %q", path, name)
		}
		out[action] = text
	}
	return out, nil
}

// Build renders the prompt for task.
func (b *PromptBuilder) Build(task plan.Task, sentinelPath string) (string, error) {
	t, ok := b.templates[task.Action]
	if !ok {
		return "", fmt.Errorf("no prompt template for action %q", task.Action)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, PromptData{Task: task, SentinelPath: sentinelPath}); err != nil {
		return "", fmt.Errorf("render prompt for task %s: %w", task.ID, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
