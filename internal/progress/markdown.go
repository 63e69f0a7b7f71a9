package progress

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/filelock"
)

const markdownTitle = "# Progress"

// MarkdownStore keeps progress in a human-editable Markdown document holding
// a summary line and a pipe table. Text outside the table is preserved, as
// are rows the store does not touch.
type MarkdownStore struct {
	path string
	opts options
}

// NewMarkdownStore returns a store backed by the Markdown document at path.
// The file is created on the first Update.
func NewMarkdownStore(path string, opts ...Option) *MarkdownStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MarkdownStore{path: path, opts: o}
}

// Path returns the document location.
func (s *MarkdownStore) Path() string {
	return s.path
}

func (s *MarkdownStore) lockPath() string {
	return filelock.LockPath(s.path)
}

// readLines returns the document split into lines, or nil when it does not
// exist.
func (s *MarkdownStore) readLines() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress %s: %w", s.path, err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (s *MarkdownStore) entries(lines []string, t table) map[string]Entry {
	out := make(map[string]Entry, len(t.rows))
	for _, i := range t.rows {
		e, ok := t.parseRow(lines[i])
		if !ok {
			s.opts.logger.Debug("skipping malformed progress row",
				"file", s.path, "line", i+1, "row", lines[i])
			continue
		}
		if _, dup := out[e.ID]; dup {
			s.opts.logger.Debug("skipping duplicate progress row",
				"file", s.path, "line", i+1, "task_id", e.ID)
			continue
		}
		out[e.ID] = e
	}
	return out
}

// Read parses the document. A missing document, or one without a progress
// table, yields an empty map.
func (s *MarkdownStore) Read() (map[string]Entry, error) {
	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	t := findTable(lines)
	if t.header < 0 {
		return map[string]Entry{}, nil
	}
	return s.entries(lines, t), nil
}

// Summarize counts the recorded entries by status.
func (s *MarkdownStore) Summarize() (Summary, error) {
	entries, err := s.Read()
	if err != nil {
		return Summary{}, err
	}
	return Summarize(entries), nil
}

// Update records status and notes for id.
func (s *MarkdownStore) Update(id string, status Status, notes string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("update progress: empty task id")
	}
	st, ok := ParseStatus(string(status))
	if !ok {
		return fmt.Errorf("update progress for task %s: unknown status %q", id, status)
	}
	return filelock.With(s.lockPath(), func() error {
		return s.rewrite(Entry{
			ID:      id,
			Status:  st,
			Updated: s.opts.clock.Now(),
			Notes:   notes,
		})
	})
}

// Reset forces id back to Pending and clears its notes.
func (s *MarkdownStore) Reset(id string) error {
	return s.Update(id, StatusPending, "")
}

// rewrite replaces or appends the row for e and refreshes the summary line.
// It must be called with the document lock held.
func (s *MarkdownStore) rewrite(e Entry) error {
	lines, err := s.readLines()
	if err != nil {
		return err
	}

	t := findTable(lines)
	if t.header < 0 {
		lines = appendTable(lines)
		t = findTable(lines)
	}

	target := -1
	for _, i := range t.rows {
		if cur, ok := t.parseRow(lines[i]); ok && cur.ID == e.ID {
			target = i
			break
		}
	}
	if target >= 0 {
		lines[target] = t.formatRow(e, splitRow(lines[target]))
	} else {
		row := t.formatRow(e, nil)
		lines = append(lines[:t.end], append([]string{row}, lines[t.end:]...)...)
		t = findTable(lines)
	}

	summary := Summarize(s.entries(lines, t))
	lines = setSummary(lines, t.header, summary)

	data := strings.Join(lines, "\n") + "\n"
	if err := filelock.WriteAtomic(s.path, []byte(data), 0644); err != nil {
		return fmt.Errorf("write progress %s: %w", s.path, err)
	}
	return nil
}

// appendTable adds an empty progress table, and a title when the document
// is new.
func appendTable(lines []string) []string {
	if len(lines) == 0 {
		lines = append(lines, markdownTitle, "", summaryLine(Summary{}), "")
	} else if strings.TrimSpace(lines[len(lines)-1]) != "" {
		lines = append(lines, "")
	}
	return append(lines, headerLines(defaultColumns)...)
}

// setSummary replaces the first summary line, or inserts one above the
// table header.
func setSummary(lines []string, header int, s Summary) []string {
	for i, l := range lines {
		if isSummaryLine(l) {
			lines[i] = summaryLine(s)
			return lines
		}
	}
	insert := []string{summaryLine(s), ""}
	out := make([]string, 0, len(lines)+len(insert))
	out = append(out, lines[:header]...)
	out = append(out, insert...)
	return append(out, lines[header:]...)
}
