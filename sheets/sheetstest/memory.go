// Package sheetstest provides an in-memory stand-in for the sheet proxy.
package sheetstest

import (
	"context"
	"sync"

	"github.com/mohans/remindx/sheets"
)

// Memory holds tables in memory. Reads return copies, so callers observe
// writes only on the next read, as with the real proxy.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]sheets.Row

	// FailWrites makes every write report failure.
	FailWrites bool

	Reads       int
	Writes      int
	Invalidated int
}

func NewMemory() *Memory {
	return &Memory{tables: map[string][]sheets.Row{}}
}

// Set replaces a table, header row first.
func (m *Memory) Set(name string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := make([]sheets.Row, len(rows))
	for i, r := range rows {
		t[i] = append(sheets.Row(nil), r...)
	}
	m.tables[name] = t
}

// Cell returns a cell by 1-based coordinates.
func (m *Memory) Cell(table string, row, col int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	if row < 1 || row > len(rows) {
		return ""
	}
	return rows[row-1].Cell(col - 1)
}

func (m *Memory) ReadTable(_ context.Context, name string) []sheets.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++
	src := m.tables[name]
	out := make([]sheets.Row, len(src))
	for i, r := range src {
		out[i] = append(sheets.Row(nil), r...)
	}
	return out
}

func (m *Memory) WriteCell(_ context.Context, table string, row, col int, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites || row < 1 || col < 1 {
		return false
	}
	m.Writes++
	rows := m.tables[table]
	for len(rows) < row {
		rows = append(rows, sheets.Row{})
	}
	r := rows[row-1]
	for len(r) < col {
		r = append(r, "")
	}
	r[col-1] = value
	rows[row-1] = r
	m.tables[table] = rows
	return true
}

func (m *Memory) AppendRow(_ context.Context, table string, row []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return false
	}
	m.Writes++
	m.tables[table] = append(m.tables[table], append(sheets.Row(nil), row...))
	return true
}

func (m *Memory) Invalidate(string) {
	m.mu.Lock()
	m.Invalidated++
	m.mu.Unlock()
}
