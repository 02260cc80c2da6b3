package reminder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/stage"
	"github.com/mohans/remindx/tasks"
)

// Repository is the task storage the engine works against.
type Repository interface {
	LoadOpenTasks(ctx context.Context) []tasks.Task
	FindByID(ctx context.Context, id string, fresh bool) (tasks.Task, bool)
	WriteReminders(ctx context.Context, t tasks.Task, st stage.State) bool
	Today() time.Time
}

// Tracker reads and records which stages have fired for a task. The record
// lives in the task sheet, so it survives restarts.
type Tracker struct {
	repo Repository
	log  logrus.FieldLogger
}

func NewTracker(repo Repository, log logrus.FieldLogger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{repo: repo, log: log}
}

// HasFired reports whether s is already recorded on t.
func (tr *Tracker) HasFired(t tasks.Task, s stage.Stage) bool {
	return t.Reminders.Has(s)
}

// MarkFired records s as fired on day at. The row is re-read first and its
// state merged with what t carried, so a concurrent write to another stage is
// kept. Two writers racing on the same cell still resolve last-writer-wins.
func (tr *Tracker) MarkFired(ctx context.Context, t tasks.Task, s stage.Stage, at time.Time) bool {
	l := tr.log.WithFields(logrus.Fields{"task_id": t.ID, "stage": s.String()})
	current, ok := tr.repo.FindByID(ctx, t.ID, true)
	if !ok {
		l.Warn("task vanished before its reminder state could be written")
		return false
	}
	st := current.Reminders.Merge(t.Reminders).With(s, at)
	if !tr.repo.WriteReminders(ctx, current, st) {
		l.Error("failed to record fired stage")
		return false
	}
	return true
}
