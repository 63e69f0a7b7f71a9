package progress

import (
	"strings"
	"time"
)

// Column names of the progress table.
const (
	colID      = "id"
	colStatus  = "status"
	colUpdated = "updated"
	colNotes   = "notes"
)

const summaryPrefix = "**Summary:**"

var defaultColumns = []string{"ID", "Status", "Updated", "Notes"}

// table locates the progress table inside a Markdown document.
type table struct {
	header  int            // line index of the header row, -1 when absent
	rows    []int          // line indexes of body rows, in order
	end     int            // line index just past the last table line
	columns []string       // header cells as written
	index   map[string]int // lower-cased column name to cell index
}

// splitRow splits a pipe-table row into trimmed cells. Escaped pipes (\|)
// stay inside their cell and are unescaped.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	var cells []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) && line[i+1] == '|' {
			cur.WriteByte('|')
			i++
			continue
		}
		if c == '|' {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	cells = append(cells, strings.TrimSpace(cur.String()))

	if strings.HasPrefix(line, "|") && len(cells) > 0 {
		cells = cells[1:]
	}
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) && len(cells) > 0 {
		cells = cells[:len(cells)-1]
	}
	return cells
}

func isTableLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

func isSeparator(line string) bool {
	cells := splitRow(line)
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if c == "" || strings.Trim(c, "-: ") != "" || !strings.Contains(c, "-") {
			return false
		}
	}
	return true
}

// findTable scans lines for the first header row naming both the ID and
// Status columns, followed by a separator row.
func findTable(lines []string) table {
	t := table{header: -1, end: len(lines)}
	for i := 0; i+1 < len(lines); i++ {
		if !isTableLine(lines[i]) || !isSeparator(lines[i+1]) {
			continue
		}
		cells := splitRow(lines[i])
		index := make(map[string]int, len(cells))
		for j, c := range cells {
			name := strings.ToLower(c)
			if _, dup := index[name]; !dup {
				index[name] = j
			}
		}
		if _, ok := index[colID]; !ok {
			continue
		}
		if _, ok := index[colStatus]; !ok {
			continue
		}

		t.header = i
		t.columns = cells
		t.index = index
		j := i + 2
		for ; j < len(lines) && isTableLine(lines[j]); j++ {
			t.rows = append(t.rows, j)
		}
		t.end = j
		return t
	}
	return t
}

func (t table) cell(cells []string, name string) string {
	i, ok := t.index[name]
	if !ok || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// parseRow converts a body row into an Entry. It reports false for rows that
// lack an id or carry an unrecognised status.
func (t table) parseRow(line string) (Entry, bool) {
	cells := splitRow(line)
	id := t.cell(cells, colID)
	if id == "" {
		return Entry{}, false
	}
	status, ok := ParseStatus(t.cell(cells, colStatus))
	if !ok {
		return Entry{}, false
	}
	e := Entry{ID: id, Status: status, Notes: t.cell(cells, colNotes)}
	if ts := t.cell(cells, colUpdated); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Updated = parsed
		}
	}
	return e, true
}

// formatRow renders e in the table's column layout. Cells of columns this
// package does not own are carried over from prev.
func (t table) formatRow(e Entry, prev []string) string {
	cells := make([]string, len(t.columns))
	for i := range cells {
		if i < len(prev) {
			cells[i] = prev[i]
		}
	}
	set := func(name, v string) {
		if i, ok := t.index[name]; ok {
			cells[i] = v
		}
	}
	set(colID, e.ID)
	set(colStatus, string(e.Status))
	if !e.Updated.IsZero() {
		set(colUpdated, e.Updated.UTC().Format(time.RFC3339))
	} else {
		set(colUpdated, "")
	}
	set(colNotes, e.Notes)

	var sb strings.Builder
	sb.WriteString("|")
	for _, c := range cells {
		sb.WriteString(" ")
		sb.WriteString(escapeCell(c))
		sb.WriteString(" |")
	}
	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func headerLines(columns []string) []string {
	var head, sep strings.Builder
	head.WriteString("|")
	sep.WriteString("|")
	for _, c := range columns {
		head.WriteString(" " + c + " |")
		sep.WriteString(" " + strings.Repeat("-", max(len(c), 3)) + " |")
	}
	return []string{head.String(), sep.String()}
}

func summaryLine(s Summary) string {
	return summaryPrefix + " " + s.String()
}

func isSummaryLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), summaryPrefix)
}
