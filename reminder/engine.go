// Package reminder runs the reminder pass: it classifies every open task by
// how far it is from its deadline, sends the stage's notification once, and
// records that it did.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/jalali"
	"github.com/mohans/remindx/notify"
	"github.com/mohans/remindx/stage"
	"github.com/mohans/remindx/tasks"
)

// ErrPassInProgress is returned when RunPass is called while another pass
// is still running.
var ErrPassInProgress = errors.New("reminder: pass already in progress")

// ErrPassQueued is returned by pass queues when a pass is already waiting to
// run.
var ErrPassQueued = errors.New("reminder: pass already queued")

const (
	ActionDone   = "DONE::"
	ActionNotYet = "NOT_YET::"

	escalationPrefix = "⚠ ESC\n"
)

// Members resolves recipients.
type Members interface {
	MembersOf(ctx context.Context, team string) []notify.Member
	Admins(ctx context.Context) []notify.Member
}

// Renderer words a message of a template type.
type Renderer interface {
	Render(ctx context.Context, kind string, fields notify.Fields) string
}

type Options struct {
	// EscalateToTeam also sends escalations to the task's team, without
	// buttons.
	EscalateToTeam bool
	Logger         logrus.FieldLogger
}

// Engine runs reminder passes. One pass runs at a time.
type Engine struct {
	mu sync.Mutex

	repo      Repository
	tracker   *Tracker
	members   Members
	templates Renderer
	dispatch  *notify.Dispatcher
	toTeam    bool
	log       logrus.FieldLogger
}

func NewEngine(repo Repository, members Members, templates Renderer, sender notify.Sender, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "reminder")
	return &Engine{
		repo:      repo,
		tracker:   NewTracker(repo, log),
		members:   members,
		templates: templates,
		dispatch:  notify.NewDispatcher(sender, log),
		toTeam:    opts.EscalateToTeam,
		log:       log,
	}
}

// Outcome is what a pass did with one task.
type Outcome string

const (
	// OutcomeFired: delivered to at least one recipient and recorded.
	OutcomeFired Outcome = "fired"
	// OutcomeSkipped: the stage had already fired.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeUndelivered: nobody could be reached; retried next pass.
	OutcomeUndelivered Outcome = "undelivered"
	// OutcomeUnrecorded: delivered, but the state write failed, so the next
	// pass sends it again.
	OutcomeUnrecorded Outcome = "unrecorded"
)

// TaskResult is the per-task line of a Report.
type TaskResult struct {
	TaskID     string  `json:"task_id"`
	Stage      string  `json:"stage"`
	Outcome    Outcome `json:"outcome"`
	Recipients int     `json:"recipients"`
	Delivered  int     `json:"delivered"`
}

// Report summarizes one pass.
type Report struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Considered int          `json:"considered"`
	Fired      int          `json:"fired"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Tasks      []TaskResult `json:"tasks,omitempty"`
}

func (r *Report) add(res TaskResult) {
	r.Tasks = append(r.Tasks, res)
	switch res.Outcome {
	case OutcomeFired:
		r.Fired++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// RunPass processes every open task once. It returns ErrPassInProgress
// without doing anything if a pass is already running, and ctx.Err() if it
// is cancelled between tasks.
func (e *Engine) RunPass(ctx context.Context) (Report, error) {
	if !e.mu.TryLock() {
		return Report{}, ErrPassInProgress
	}
	defer e.mu.Unlock()

	today := e.repo.Today()
	rep := Report{StartedAt: today}
	open := e.repo.LoadOpenTasks(ctx)
	for _, t := range open {
		if err := ctx.Err(); err != nil {
			rep.FinishedAt = e.repo.Today()
			return rep, err
		}
		if t.Done || t.Deadline.IsZero() {
			continue
		}
		s, ok := stage.For(t.DelayDays)
		if !ok {
			continue
		}
		rep.Considered++
		rep.add(e.fire(ctx, t, s, today))
	}
	rep.FinishedAt = e.repo.Today()
	e.log.WithFields(logrus.Fields{
		"open":       len(open),
		"considered": rep.Considered,
		"fired":      rep.Fired,
		"skipped":    rep.Skipped,
		"failed":     rep.Failed,
	}).Info("reminder pass finished")
	return rep, nil
}

func (e *Engine) fire(ctx context.Context, t tasks.Task, s stage.Stage, today time.Time) TaskResult {
	res := TaskResult{TaskID: t.ID, Stage: s.String()}
	l := e.log.WithFields(logrus.Fields{"task_id": t.ID, "stage": res.Stage, "team": t.Team})
	if e.tracker.HasFired(t, s) {
		res.Outcome = OutcomeSkipped
		return res
	}

	// delivered counts only the stage's own recipients; the team copy of an
	// escalation goes out after an admin was reached.
	var delivered int
	if s.Kind == stage.Escalated {
		admins := e.members.Admins(ctx)
		res.Recipients = len(admins)
		delivered = e.dispatch.Dispatch(ctx, admins, e.compose(ctx, t, s, escalationPrefix), nil)
		res.Delivered = delivered
		if e.toTeam && delivered > 0 {
			team := e.members.MembersOf(ctx, t.Team)
			res.Recipients += len(team)
			res.Delivered += e.dispatch.Dispatch(ctx, team, e.compose(ctx, t, s, ""), nil)
		}
	} else {
		team := e.members.MembersOf(ctx, t.Team)
		res.Recipients = len(team)
		delivered = e.dispatch.Dispatch(ctx, team, e.compose(ctx, t, s, ""), buttonsFor(t, s))
		res.Delivered = delivered
	}

	if delivered == 0 {
		l.WithField("recipients", res.Recipients).Warn("stage not delivered to anyone; will retry next pass")
		res.Outcome = OutcomeUndelivered
		return res
	}
	if !e.tracker.MarkFired(ctx, t, s, today) {
		res.Outcome = OutcomeUnrecorded
		return res
	}
	l.WithField("delivered", res.Delivered).Info("stage fired")
	res.Outcome = OutcomeFired
	return res
}

func (e *Engine) compose(ctx context.Context, t tasks.Task, s stage.Stage, prefix string) notify.Compose {
	dateFA := t.DateFA
	if dateFA == "" {
		dateFA = jalali.Format(t.Deadline)
	}
	esc := notify.EscapeMarkdown
	header := fmt.Sprintf("📌 %s\n📅 %s\n\n", notify.BoldMarkdown(t.Title), esc(dateFA))
	return func(m notify.Member) string {
		body := e.templates.Render(ctx, s.Template(), notify.Fields{
			"NAME":    esc(m.DisplayName()),
			"TEAM":    esc(t.Team),
			"TITLE":   esc(t.Title),
			"DAYS":    strconv.Itoa(abs(t.DelayDays)),
			"DATE_FA": esc(dateFA),
			"TASK_ID": esc(t.ID),
		})
		return prefix + header + body
	}
}

func buttonsFor(t tasks.Task, s stage.Stage) []notify.Button {
	if !s.Actionable() {
		return nil
	}
	return []notify.Button{
		{Label: "✔️ تحویل شد", Action: ActionDone + t.ID},
		{Label: "❌ هنوز نه", Action: ActionNotYet + t.ID},
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
