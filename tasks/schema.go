package tasks

import (
	"strings"

	"github.com/mohans/remindx/sheets"
)

// Column is a logical task-sheet column.
type Column string

const (
	ColTaskID    Column = "taskid"
	ColTeam      Column = "team"
	ColDateEN    Column = "dateen"
	ColDateFA    Column = "datefa"
	ColDayName   Column = "dayname"
	ColTime      Column = "time"
	ColTitle     Column = "title"
	ColType      Column = "type"
	ColComment   Column = "comment"
	ColStatus    Column = "status"
	ColDone      Column = "done"
	ColReminders Column = "reminders"
)

// Positions used when the header row does not name a column.
var defaultPositions = map[Column]int{
	ColTaskID:    0,
	ColTeam:      1,
	ColDateEN:    2,
	ColDateFA:    3,
	ColDayName:   4,
	ColTime:      5,
	ColTitle:     6,
	ColType:      7,
	ColComment:   8,
	ColStatus:    9,
	ColDone:      18,
	ColReminders: 19,
}

var headerAliases = map[string]Column{
	"id":            ColTaskID,
	"task":          ColTaskID,
	"date":          ColDateEN,
	"deadline":      ColDateEN,
	"jalalidate":    ColDateFA,
	"reminderstate": ColReminders,
	"reminder":      ColReminders,
	"notified":      ColReminders,
}

// Schema maps logical columns to zero-based cell indexes for one load.
type Schema struct {
	index map[Column]int
}

// ResolveSchema reads the header row. Header matching ignores case, spaces,
// dashes and underscores, so "Task ID", "task_id" and "TaskID" are the same.
func ResolveSchema(header sheets.Row) Schema {
	s := Schema{index: make(map[Column]int, len(defaultPositions))}
	for i, name := range header {
		key := headerKey(name)
		if key == "" {
			continue
		}
		col := Column(key)
		if alias, ok := headerAliases[key]; ok {
			col = alias
		}
		if _, known := defaultPositions[col]; !known {
			continue
		}
		if _, taken := s.index[col]; !taken {
			s.index[col] = i
		}
	}
	claimed := make(map[int]bool, len(s.index))
	for _, i := range s.index {
		claimed[i] = true
	}
	for col, pos := range defaultPositions {
		if _, ok := s.index[col]; ok {
			continue
		}
		if claimed[pos] {
			s.index[col] = -1 // absent
			continue
		}
		s.index[col] = pos
	}
	return s
}

// Index is the zero-based cell index of col, -1 when a named header
// already occupies the column's default position.
func (s Schema) Index(col Column) int { return s.index[col] }

// SheetColumn is the 1-based column number the proxy expects on writes,
// or 0 when the column is absent.
func (s Schema) SheetColumn(col Column) int { return s.index[col] + 1 }

func (s Schema) get(row sheets.Row, col Column) string {
	return strings.TrimSpace(row.Cell(s.index[col]))
}

func headerKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch r {
		case ' ', '_', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
