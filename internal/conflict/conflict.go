// Package conflict detects teacher double-booking against a set of loaded
// classes. The backend offers the same check; this one runs locally when the
// backend cannot answer.
package conflict

import (
	"fmt"
	"strings"
	"time"

	"schedadmin/internal/model"
)

// TeacherScheduleConflict is the only conflict type reported.
const TeacherScheduleConflict = "teacher_schedule_conflict"

// Request is the body of a conflict check.
type Request struct {
	Teacher        string    `json:"teacher"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	ExcludeEventID string    `json:"exclude_event_id,omitempty"`
}

// Conflict describes one clashing class.
type Conflict struct {
	EventID      string `json:"event_id,omitempty"`
	EventSummary string `json:"event_summary"`
	EventTeacher string `json:"event_teacher"`
	EventStart   string `json:"event_start"`
	EventEnd     string `json:"event_end"`
	ConflictType string `json:"conflict_type"`
}

// Result is the outcome of a check.
type Result struct {
	HasConflict   bool       `json:"has_conflict"`
	Conflicts     []Conflict `json:"conflicts"`
	ConflictCount int        `json:"conflict_count"`
	Analysis      string     `json:"ai_analysis,omitempty"`
	Error         string     `json:"error,omitempty"`
	// Local is set when the result was computed here rather than by the
	// backend.
	Local bool `json:"local,omitempty"`
}

// NormalizeTeacher lower-cases a name and collapses whitespace.
func NormalizeTeacher(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// TeacherOf returns the event's teacher, falling back to the second part of
// a "<class> - <teacher> - <program>" summary.
func TeacherOf(ev model.Event) string {
	if t := strings.TrimSpace(ev.Teacher); t != "" {
		return t
	}
	if parts := strings.Split(ev.Summary, " - "); len(parts) >= 2 {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Check reports every event taught by req.Teacher whose time range
// intersects [req.Start, req.End). Events with unparsed times are skipped.
func Check(events []model.Event, req Request) Result {
	res := Result{Conflicts: []Conflict{}, Local: true}
	if req.Start.IsZero() || req.End.IsZero() {
		res.Error = "invalid datetime"
		return res
	}

	want := NormalizeTeacher(req.Teacher)
	start, end := req.Start.UTC(), req.End.UTC()

	for _, ev := range events {
		if req.ExcludeEventID != "" && ev.ID == req.ExcludeEventID {
			continue
		}
		teacher := TeacherOf(ev)
		if teacher == "" || NormalizeTeacher(teacher) != want {
			continue
		}
		if ev.Validate() != nil {
			continue
		}
		evStart, evEnd := ev.Start.Time.UTC(), ev.End.Time.UTC()
		if start.Before(evEnd) && end.After(evStart) {
			summary := ev.Summary
			if summary == "" {
				summary = "No title"
			}
			res.Conflicts = append(res.Conflicts, Conflict{
				EventID:      ev.ID,
				EventSummary: summary,
				EventTeacher: teacher,
				EventStart:   ev.Start.Time.Format(time.RFC3339),
				EventEnd:     ev.End.Time.Format(time.RFC3339),
				ConflictType: TeacherScheduleConflict,
			})
		}
	}

	res.ConflictCount = len(res.Conflicts)
	res.HasConflict = res.ConflictCount > 0
	if res.HasConflict {
		res.Analysis = fmt.Sprintf("local check: %d conflict(s)", res.ConflictCount)
	} else {
		res.Analysis = "local check: no conflicts"
	}
	return res
}
