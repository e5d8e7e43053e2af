// Package layout positions the classes of one day on a vertical timeline.
// Each event gets its start and end as minutes since midnight plus a
// horizontal slot (width and left offset as fractions of the column) so that
// overlapping events sit side by side.
package layout

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
)

// ErrInvalidTime is returned when an event boundary did not parse.
var ErrInvalidTime = model.ErrInvalidTime

// MinDisplayMinutes is the smallest height, in minutes, a renderer gives an
// event regardless of its duration.
const MinDisplayMinutes = 30

// LastMinute is the minute of 23:59, the clipped end of a day.
const LastMinute = 23*60 + 59

// Mode selects how overlapping events are grouped.
type Mode string

const (
	// ModePerEvent sizes every event by the set of events that overlap it
	// directly. In a chain A-B-C where only neighbours overlap, A and C get
	// half the width and B a third.
	ModePerEvent Mode = "per-event"
	// ModeConnected groups transitively overlapping events and packs each
	// group into the fewest columns. All events of a group share a width.
	ModeConnected Mode = "connected"
)

// ParseMode maps a config value to a Mode. Unknown values are an error.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePerEvent:
		return ModePerEvent, nil
	case ModeConnected:
		return ModeConnected, nil
	default:
		return "", fmt.Errorf("unknown layout mode %q", s)
	}
}

// Positioned is an event annotated with its place on the day grid.
type Positioned struct {
	Event model.Event

	StartMinutes int
	EndMinutes   int

	WidthFraction float64
	LeftFraction  float64

	// ClusterSize is the number of events the width was derived from.
	ClusterSize int
	// Column is the zero-based slot, LeftFraction = Column * WidthFraction.
	Column int
}

// MarshalJSON emits the event fields with the geometry added alongside.
func (p Positioned) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(p.Event)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}

	geometry := map[string]any{
		"startMinutes":  p.StartMinutes,
		"endMinutes":    p.EndMinutes,
		"widthFraction": p.WidthFraction,
		"leftFraction":  p.LeftFraction,
		"clusterSize":   p.ClusterSize,
		"column":        p.Column,
	}
	for k, v := range geometry {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return json.Marshal(out)
}

// DisplayMinutes is the height a renderer should give p, at least
// MinDisplayMinutes.
func DisplayMinutes(p Positioned) int {
	return max(p.EndMinutes-p.StartMinutes, MinDisplayMinutes)
}

// DayBounds returns midnight and 23:59:59.999 of day in day's location.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	loc := day.Location()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}

// OverlapsDay reports whether ev intersects day. Events with unparsed
// boundaries never overlap.
func OverlapsDay(ev model.Event, day time.Time) bool {
	if ev.Validate() != nil {
		return false
	}
	dayStart, dayEnd := DayBounds(day)
	return ev.End.Time.After(dayStart) && ev.Start.Time.Before(dayEnd)
}

// FilterDay keeps the events that intersect day, in input order.
func FilterDay(events []model.Event, day time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if OverlapsDay(ev, day) {
			out = append(out, ev)
		}
	}
	return out
}

// Engine lays out a day. The zero value uses ModePerEvent.
type Engine struct {
	Mode Mode
}

// Layout positions events on day. Minutes are wall-clock minutes in the
// location of day.
//
// Events should already be filtered to the day; any that do not intersect
// it are dropped. An event whose start or end did not parse fails the whole
// call with an error wrapping ErrInvalidTime. The result is ordered by
// start minute; events starting in the same minute keep their input order.
func (e Engine) Layout(day time.Time, events []model.Event) ([]Positioned, error) {
	dayStart, dayEnd := DayBounds(day)
	loc := day.Location()

	out := make([]Positioned, 0, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("layout: %w", err)
		}
		start, end := ev.Start.Time, ev.End.Time
		if !end.After(dayStart) || !start.Before(dayEnd) {
			appLog.Debug("layout: event outside day dropped", "event", ev.ID, "day", dayStart.Format(time.DateOnly))
			continue
		}
		if start.Before(dayStart) {
			start = dayStart
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		out = append(out, Positioned{
			Event:        ev,
			StartMinutes: minuteOfDay(start, loc),
			EndMinutes:   minuteOfDay(end, loc),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartMinutes < out[j].StartMinutes
	})

	switch e.Mode {
	case ModeConnected:
		packConnected(out)
	default:
		packPerEvent(out)
	}
	return out, nil
}

// Layout runs the default engine.
func Layout(day time.Time, events []model.Event) ([]Positioned, error) {
	return Engine{}.Layout(day, events)
}

func minuteOfDay(t time.Time, loc *time.Location) int {
	t = t.In(loc)
	return t.Hour()*60 + t.Minute()
}

func overlaps(a, b Positioned) bool {
	return a.StartMinutes < b.EndMinutes && a.EndMinutes > b.StartMinutes
}

// packPerEvent evaluates every event against all others independently.
// An event is always part of its own cluster, even when it has no length.
func packPerEvent(sorted []Positioned) {
	for i := range sorted {
		size, rank := 0, 0
		for j := range sorted {
			if j != i && !overlaps(sorted[j], sorted[i]) {
				continue
			}
			if j < i {
				rank++
			}
			size++
		}
		sorted[i].ClusterSize = size
		sorted[i].Column = rank
		sorted[i].WidthFraction = 1 / float64(size)
		sorted[i].LeftFraction = float64(rank) / float64(size)
	}
}

// packConnected splits the sorted events into groups of transitively
// overlapping events and assigns each event the lowest free column of its
// group.
func packConnected(sorted []Positioned) {
	for lo := 0; lo < len(sorted); {
		hi := lo + 1
		groupEnd := sorted[lo].EndMinutes
		for hi < len(sorted) && sorted[hi].StartMinutes < groupEnd {
			groupEnd = max(groupEnd, sorted[hi].EndMinutes)
			hi++
		}

		var columnEnds []int
		for i := lo; i < hi; i++ {
			col := -1
			for c, end := range columnEnds {
				if end <= sorted[i].StartMinutes {
					col = c
					break
				}
			}
			if col < 0 {
				col = len(columnEnds)
				columnEnds = append(columnEnds, 0)
			}
			columnEnds[col] = max(sorted[i].EndMinutes, sorted[i].StartMinutes+1)
			sorted[i].Column = col
		}

		cols := len(columnEnds)
		for i := lo; i < hi; i++ {
			sorted[i].ClusterSize = hi - lo
			sorted[i].WidthFraction = 1 / float64(cols)
			sorted[i].LeftFraction = float64(sorted[i].Column) / float64(cols)
		}
		lo = hi
	}
}
