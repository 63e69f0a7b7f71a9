package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/autopilot/internal/errors"
)

type confirmKeys struct {
	Yes    key.Binding
	No     key.Binding
	Toggle key.Binding
	Accept key.Binding
}

func defaultConfirmKeys() confirmKeys {
	return confirmKeys{
		Yes:    key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "clear lease")),
		No:     key.NewBinding(key.WithKeys("n", "N", "esc", "q", "ctrl+c"), key.WithHelp("n", "abort run")),
		Toggle: key.NewBinding(key.WithKeys("left", "right", "tab", "h", "l"), key.WithHelp("←/→", "choose")),
		Accept: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
	}
}

// ConfirmModel is a yes/no dialog asking whether a stale lease may be
// cleared. The default selection is "no".
type ConfirmModel struct {
	warning  *errors.StaleLeaseWarning
	keys     confirmKeys
	yes      bool
	answered bool
	width    int
}

// NewConfirmModel creates the dialog for warning.
func NewConfirmModel(warning *errors.StaleLeaseWarning) ConfirmModel {
	return ConfirmModel{warning: warning, keys: defaultConfirmKeys()}
}

// Init implements tea.Model.
func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Yes):
			m.yes, m.answered = true, true
			return m, tea.Quit
		case key.Matches(msg, m.keys.No):
			m.yes, m.answered = false, true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			m.yes = !m.yes
		case key.Matches(msg, m.keys.Accept):
			m.answered = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// Answered returns the operator's answer and whether one was given.
func (m ConfirmModel) Answered() (yes bool, ok bool) {
	return m.yes, m.answered
}

// View implements tea.Model.
func (m ConfirmModel) View() string {
	if m.answered {
		return ""
	}

	var b strings.Builder
	b.WriteString(warningStyle.Render("Stale lease found"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Task %s is still marked in progress by a previous run.\n", m.warning.TaskID)
	if m.warning.ProgressStatus != "" {
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("progress:"), statusStyle(progressStatus(m.warning.ProgressStatus)).Render(m.warning.ProgressStatus))
	}
	if m.warning.LeasePath != "" {
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("lease:   "), Truncate(m.warning.LeasePath, m.contentWidth()-10))
	}
	b.WriteString("\nIf no executor is still working on it, clearing the lease lets the run continue.\n\n")

	yes, no := "  Clear lease  ", "  Abort run  "
	selected := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#111827")).Background(warningColor)
	if m.yes {
		yes = selected.Render(yes)
		no = mutedStyle.Render(no)
	} else {
		yes = mutedStyle.Render(yes)
		no = selected.Render(no)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, yes, "  ", no))
	b.WriteString("\n\n")
	b.WriteString(m.help())

	return dialogStyle.Render(b.String()) + "\n"
}

func (m ConfirmModel) help() string {
	bindings := []key.Binding{m.keys.Yes, m.keys.No, m.keys.Toggle, m.keys.Accept}
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, keyStyle.Render(h.Key)+" "+mutedStyle.Render(h.Desc))
	}
	return strings.Join(parts, mutedStyle.Render(" · "))
}

func (m ConfirmModel) contentWidth() int {
	if m.width <= 0 {
		return 80
	}
	return m.width - 4
}

// Prompt asks stale-lease questions on a terminal.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

// ConfirmStaleLease runs the dialog until the operator answers or ctx ends.
// Closing the dialog without an answer declines.
func (p Prompt) ConfirmStaleLease(ctx context.Context, warning *errors.StaleLeaseWarning) (bool, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.In != nil {
		opts = append(opts, tea.WithInput(p.In))
	}
	if p.Out != nil {
		opts = append(opts, tea.WithOutput(p.Out))
	}

	final, err := tea.NewProgram(NewConfirmModel(warning), opts...).Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("stale lease prompt: %w", err)
	}
	m, ok := final.(ConfirmModel)
	if !ok {
		return false, nil
	}
	yes, answered := m.Answered()
	return answered && yes, nil
}

// IsInteractive reports whether both in and out are terminals, which is
// required for the dialog.
func IsInteractive(in, out *os.File) bool {
	return in != nil && out != nil &&
		term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd()))
}
