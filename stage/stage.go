// Package stage names the points in a task's deadline lifecycle at which a
// reminder is sent, and the per-task record of which of them already went out.
package stage

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a family of stages.
type Kind int

const (
	TwoDaysBefore Kind = iota + 1
	Deadline
	Overdue
	Escalated
)

// MaxOverdueDay is the last day that gets its own overdue reminder; anything
// later escalates.
const MaxOverdueDay = 5

// Stage is a single reminder point. Day is set only for Overdue stages.
type Stage struct {
	Kind Kind
	Day  int
}

func OverdueDay(n int) Stage { return Stage{Kind: Overdue, Day: n} }

var (
	StageTwoDaysBefore = Stage{Kind: TwoDaysBefore}
	StageDeadline      = Stage{Kind: Deadline}
	StageEscalated     = Stage{Kind: Escalated}
)

// For maps a delay (today - deadline, in days) to the stage due on that day.
// Offsets outside -2, 0, 1..5 and >5 have no stage.
func For(delay int) (Stage, bool) {
	switch {
	case delay == -2:
		return StageTwoDaysBefore, true
	case delay == 0:
		return StageDeadline, true
	case delay >= 1 && delay <= MaxOverdueDay:
		return OverdueDay(delay), true
	case delay > MaxOverdueDay:
		return StageEscalated, true
	}
	return Stage{}, false
}

func (s Stage) String() string {
	switch s.Kind {
	case TwoDaysBefore:
		return "two_days_before"
	case Deadline:
		return "deadline"
	case Overdue:
		return "overdue_" + strconv.Itoa(s.Day)
	case Escalated:
		return "escalated"
	}
	return "unknown"
}

// Template is the message-sheet type used to word this stage.
func (s Stage) Template() string {
	switch s.Kind {
	case TwoDaysBefore:
		return "PRE2"
	case Deadline:
		return "DUE"
	case Overdue:
		return "OVR"
	case Escalated:
		return "ESC"
	}
	return ""
}

// Actionable reports whether recipients get done / not-yet buttons.
func (s Stage) Actionable() bool {
	return s.Kind == Deadline || s.Kind == Overdue
}

// Parse is the inverse of String.
func Parse(name string) (Stage, error) {
	switch name {
	case "two_days_before":
		return StageTwoDaysBefore, nil
	case "deadline":
		return StageDeadline, nil
	case "escalated":
		return StageEscalated, nil
	}
	if rest, ok := strings.CutPrefix(name, "overdue_"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n >= 1 && n <= MaxOverdueDay {
			return OverdueDay(n), nil
		}
	}
	return Stage{}, fmt.Errorf("unknown stage %q", name)
}
