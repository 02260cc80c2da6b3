package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/jalali"
	"github.com/mohans/remindx/sheets"
	"github.com/mohans/remindx/stage"
)

// Store is the slice of the sheet client the repository needs.
type Store interface {
	ReadTable(ctx context.Context, name string) []sheets.Row
	WriteCell(ctx context.Context, table string, row, col int, value string) bool
	Invalidate(table string)
}

var (
	errNoID       = errors.New("missing task id")
	errNoTitle    = errors.New("missing title")
	errNoDeadline = errors.New("unparsable deadline")
)

type Options struct {
	Table    string // default sheets.TasksTable
	Location *time.Location
	Now      func() time.Time
	Logger   logrus.FieldLogger
}

// Repository loads tasks from the task sheet and writes status and
// reminder bookkeeping back to it.
type Repository struct {
	store Store
	table string
	loc   *time.Location
	now   func() time.Time
	log   logrus.FieldLogger
}

func NewRepository(store Store, opts Options) *Repository {
	r := &Repository{store: store, table: opts.Table, loc: opts.Location, now: opts.Now, log: opts.Logger}
	if r.table == "" {
		r.table = sheets.TasksTable
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	r.log = r.log.WithField("component", "tasks")
	return r
}

// Today is the current time in the repository's time zone.
func (r *Repository) Today() time.Time { return r.now().In(r.loc) }

// LoadAll returns every valid task, done or not. Rows without an id, a
// title or a parsable deadline are dropped.
func (r *Repository) LoadAll(ctx context.Context) []Task {
	rows := r.store.ReadTable(ctx, r.table)
	if len(rows) < 2 {
		return nil
	}
	schema := ResolveSchema(rows[0])
	today := r.Today()
	out := make([]Task, 0, len(rows)-1)
	for i, row := range rows[1:] {
		t, err := r.convert(schema, row, i+2, today)
		if err != nil {
			if !errors.Is(err, errNoID) {
				r.log.WithFields(logrus.Fields{"row": i + 2, "task_id": t.ID}).Debugf("skip row: %v", err)
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

// LoadOpenTasks returns the valid tasks that are not done.
func (r *Repository) LoadOpenTasks(ctx context.Context) []Task {
	all := r.LoadAll(ctx)
	open := all[:0]
	for _, t := range all {
		if !t.Done {
			open = append(open, t)
		}
	}
	return open
}

// TasksForTeam returns the tasks visible to team that satisfy pred; a nil
// pred keeps everything.
func (r *Repository) TasksForTeam(ctx context.Context, team string, pred Predicate) []Task {
	var out []Task
	for _, t := range r.LoadAll(ctx) {
		if !TeamMatches(t.Team, team) {
			continue
		}
		if pred != nil && !pred(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FindByID locates a task row by id. With fresh set the cached table is
// dropped first so the read reflects the latest writes. The returned task
// may lack a deadline; it is meant for writes, not for scheduling.
func (r *Repository) FindByID(ctx context.Context, id string, fresh bool) (Task, bool) {
	if id == "" {
		return Task{}, false
	}
	if fresh {
		r.store.Invalidate(r.table)
	}
	rows := r.store.ReadTable(ctx, r.table)
	if len(rows) < 2 {
		return Task{}, false
	}
	schema := ResolveSchema(rows[0])
	today := r.Today()
	for i, row := range rows[1:] {
		if schema.get(row, ColTaskID) != id {
			continue
		}
		t, _ := r.convert(schema, row, i+2, today)
		return t, true
	}
	return Task{}, false
}

// MarkTaskDone sets the status to Done and raises the Done flag.
func (r *Repository) MarkTaskDone(ctx context.Context, id string) bool {
	return r.setStatus(ctx, id, "Done", "YES", true)
}

// MarkTaskNotDone reopens a task.
func (r *Repository) MarkTaskNotDone(ctx context.Context, id string) bool {
	return r.setStatus(ctx, id, "Not Done", "", false)
}

// setStatus writes the Done flag, then the status. Columns the sheet does
// not have are skipped. If a write fails, the row is read back and the
// change counts as made when the task already reads as wantDone.
func (r *Repository) setStatus(ctx context.Context, id, status, flag string, wantDone bool) bool {
	t, ok := r.FindByID(ctx, id, true)
	if !ok {
		r.log.WithField("task_id", id).Warn("status change for unknown task")
		return false
	}
	l := r.log.WithFields(logrus.Fields{"task_id": id, "status": status})
	schema := r.schema(ctx)
	var failed []Column
	for _, w := range []struct {
		col   Column
		value string
	}{{ColDone, flag}, {ColStatus, status}} {
		n := schema.SheetColumn(w.col)
		if n < 1 {
			continue
		}
		if !r.store.WriteCell(ctx, r.table, t.Row, n, w.value) {
			failed = append(failed, w.col)
		}
	}
	if len(failed) == 0 {
		l.Info("task status updated")
		return true
	}
	if cur, ok := r.FindByID(ctx, id, true); ok && cur.Done == wantDone {
		l.Warnf("partial status write (failed: %v); row already reads as intended", failed)
		return true
	}
	l.Errorf("status write failed (failed: %v)", failed)
	return false
}

// WriteReminders replaces the reminder cell of the task's row.
func (r *Repository) WriteReminders(ctx context.Context, t Task, st stage.State) bool {
	if t.Row < 2 {
		return false
	}
	return r.store.WriteCell(ctx, r.table, t.Row, r.schema(ctx).SheetColumn(ColReminders), stage.Marshal(st))
}

func (r *Repository) schema(ctx context.Context) Schema {
	rows := r.store.ReadTable(ctx, r.table)
	if len(rows) == 0 {
		return ResolveSchema(nil)
	}
	return ResolveSchema(rows[0])
}

func (r *Repository) convert(s Schema, row sheets.Row, rowNum int, today time.Time) (Task, error) {
	t := Task{
		ID:      s.get(row, ColTaskID),
		Row:     rowNum,
		Team:    NormalizeTeam(s.get(row, ColTeam)),
		Title:   s.get(row, ColTitle),
		DateFA:  s.get(row, ColDateFA),
		DateEN:  s.get(row, ColDateEN),
		Time:    s.get(row, ColTime),
		Type:    s.get(row, ColType),
		Comment: s.get(row, ColComment),
		Status:  s.get(row, ColStatus),
		Done:    IsDone(s.get(row, ColDone), s.get(row, ColStatus)),
	}
	st, err := stage.Unmarshal(s.get(row, ColReminders))
	if err != nil {
		r.log.WithField("task_id", t.ID).Warnf("reset reminder state: %v", err)
	}
	t.Reminders = st

	if t.ID == "" {
		return t, errNoID
	}
	if t.Title == "" {
		return t, errNoTitle
	}
	deadline, ok := ParseDeadline(t.DateFA, t.DateEN, r.loc)
	if !ok {
		return t, errNoDeadline
	}
	t.Deadline = deadline
	t.DelayDays = jalali.DaysBetween(deadline, today)
	return t, nil
}
