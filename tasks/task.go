package tasks

import (
	"strings"
	"time"

	"github.com/mohans/remindx/jalali"
	"github.com/mohans/remindx/stage"
)

// AllTeams is the team value that matches every team.
const AllTeams = "all"

// Task is one validated row of the task sheet. It is rebuilt on every load.
type Task struct {
	ID        string
	Row       int // 1-based sheet row
	Team      string
	Title     string
	DateFA    string
	DateEN    string
	Time      string
	Type      string
	Comment   string
	Status    string
	Deadline  time.Time // midnight UTC of the civil due date
	DelayDays int       // today - deadline; negative means time remaining
	Done      bool
	Reminders stage.State
}

// Predicate selects tasks in TasksForTeam.
type Predicate func(Task) bool

// NotDone keeps open tasks.
func NotDone(t Task) bool { return !t.Done }

// DueToday keeps open tasks whose deadline is today.
func DueToday(t Task) bool { return !t.Done && t.DelayDays == 0 }

// UpcomingWithin keeps open tasks due today or within the next n days.
func UpcomingWithin(n int) Predicate {
	return func(t Task) bool {
		return !t.Done && t.DelayDays <= 0 && t.DelayDays >= -n
	}
}

// Overdue keeps open tasks past their deadline.
func Overdue(t Task) bool { return !t.Done && t.DelayDays > 0 }

// NormalizeTeam folds the spellings a team name shows up with in the
// sheet: case, surrounding and repeated whitespace, Arabic vs Persian
// yeh/kaf, and invisible joiners.
func NormalizeTeam(s string) string {
	s = jalali.Normalize(s)
	s = strings.NewReplacer("ي", "ی", "ك", "ک", "ى", "ی").Replace(s)
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	if s == "همه" {
		return AllTeams
	}
	return s
}

// TeamMatches reports whether a task of taskTeam is visible to viewerTeam.
func TeamMatches(taskTeam, viewerTeam string) bool {
	a, b := NormalizeTeam(taskTeam), NormalizeTeam(viewerTeam)
	if a == "" || b == "" {
		return false
	}
	return a == b || a == AllTeams || b == AllTeams
}

var doneFlags = map[string]bool{
	"yes": true, "y": true, "true": true, "done": true, "1": true, "✓": true, "✔": true, "✔️": true, "بله": true,
}

var doneStatusWords = []string{"done", "yes", "انجام شد", "تحویل"}

var notDoneStatusWords = []string{"not ", "نشده"}

// IsDone applies the completion rule: the Done flag is set, or the status
// text says the task was delivered. A negated status ("Not Done",
// "تحویل نشده") never counts as done.
func IsDone(doneFlag, status string) bool {
	if doneFlags[strings.ToLower(strings.TrimSpace(doneFlag))] {
		return true
	}
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return false
	}
	for _, w := range notDoneStatusWords {
		if strings.Contains(s, w) {
			return false
		}
	}
	for _, w := range doneStatusWords {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var gregorianLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02", "2006/01/02"}

// ParseDeadline resolves the due date from the Jalali column, falling back
// to the Gregorian one. ok is false when neither parses.
func ParseDeadline(dateFA, dateEN string, loc *time.Location) (time.Time, bool) {
	if t, ok := jalali.ToGregorian(dateFA); ok {
		return t, true
	}
	en := jalali.Normalize(dateEN)
	if en == "" {
		return time.Time{}, false
	}
	// The proxy serializes sheet dates as RFC 3339 instants.
	if ts, err := time.Parse(time.RFC3339, en); err == nil {
		local := ts.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), true
	}
	for _, layout := range gregorianLayouts {
		if ts, err := time.Parse(layout, en); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
