package stage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// State records which stages have fired for one task. It is stored as JSON
// in a single sheet cell:
//
//	{"two_days_before":"2025-10-13","deadline":"2025-10-15","overdue_days":[1,2],"escalated":"2025-10-21"}
type State struct {
	TwoDaysBefore string `json:"two_days_before,omitempty"`
	Deadline      string `json:"deadline,omitempty"`
	Escalated     string `json:"escalated,omitempty"`
	OverdueDays   []int  `json:"overdue_days,omitempty"`
}

// Has reports whether s has already been recorded.
func (st State) Has(s Stage) bool {
	switch s.Kind {
	case TwoDaysBefore:
		return st.TwoDaysBefore != ""
	case Deadline:
		return st.Deadline != ""
	case Escalated:
		return st.Escalated != ""
	case Overdue:
		for _, d := range st.OverdueDays {
			if d == s.Day {
				return true
			}
		}
	}
	return false
}

// With returns a copy of st with s recorded as fired at the given time.
// Recording an already present stage keeps the original timestamp.
func (st State) With(s Stage, at time.Time) State {
	out := st
	out.OverdueDays = append([]int(nil), st.OverdueDays...)
	stamp := at.Format(dateLayout)
	switch s.Kind {
	case TwoDaysBefore:
		if out.TwoDaysBefore == "" {
			out.TwoDaysBefore = stamp
		}
	case Deadline:
		if out.Deadline == "" {
			out.Deadline = stamp
		}
	case Escalated:
		if out.Escalated == "" {
			out.Escalated = stamp
		}
	case Overdue:
		if !st.Has(s) {
			out.OverdueDays = append(out.OverdueDays, s.Day)
			sort.Ints(out.OverdueDays)
		}
	}
	return out
}

// Merge unions two records; for singleton stages the earlier stamp wins.
func (st State) Merge(other State) State {
	out := st
	out.TwoDaysBefore = earliest(st.TwoDaysBefore, other.TwoDaysBefore)
	out.Deadline = earliest(st.Deadline, other.Deadline)
	out.Escalated = earliest(st.Escalated, other.Escalated)
	seen := map[int]bool{}
	out.OverdueDays = nil
	for _, d := range append(append([]int(nil), st.OverdueDays...), other.OverdueDays...) {
		if !seen[d] {
			seen[d] = true
			out.OverdueDays = append(out.OverdueDays, d)
		}
	}
	sort.Ints(out.OverdueDays)
	return out
}

func (st State) IsZero() bool {
	return st.TwoDaysBefore == "" && st.Deadline == "" && st.Escalated == "" && len(st.OverdueDays) == 0
}

// Marshal serializes st for the reminder cell. The zero State is "".
func Marshal(st State) string {
	if st.IsZero() {
		return ""
	}
	b, _ := json.Marshal(st)
	return string(b)
}

// Unmarshal parses a reminder cell. Blank input is the zero State. Malformed
// input returns the zero State together with an error so callers can log it
// and carry on.
func Unmarshal(raw string) (State, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return State{}, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("decode reminder state: %w", err)
	}
	return st, nil
}

func earliest(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case b < a:
		return b
	}
	return a
}
