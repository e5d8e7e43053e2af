package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
)

const defaultMaxOccurrences = 1000

// ExpandConfig bounds expansion.
type ExpandConfig struct {
	// RangeStart and RangeEnd select occurrences that intersect the window.
	RangeStart time.Time
	RangeEnd   time.Time
	// MaxOccurrences caps the instances generated per master.
	MaxOccurrences int
}

// Expanded is the result of Expand.
type Expanded struct {
	// Events are displayable events: standalone events, generated
	// instances and overridden instances, sorted by start.
	Events []model.Event
	// Series are the masters, kept for recurrence lookups.
	Series []model.Event
	// Truncated lists masters that hit MaxOccurrences.
	Truncated []string
}

// Expand turns masters into concrete instances within the window. EXDATE
// lines remove occurrences; an instance already present in events (a
// RECURRENCE-ID override) replaces the generated one with the same ID.
func Expand(events []model.Event, cfg ExpandConfig) (Expanded, error) {
	var out Expanded
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return out, errors.New("expand: range end before range start")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	overrides := make(map[string]model.Event)
	for _, ev := range events {
		if ev.IsInstance && ev.RecurringEventID != "" {
			overrides[ev.ID] = ev
		}
	}

	seen := make(map[string]bool)
	emit := func(ev model.Event) {
		if seen[ev.ID] || !intersects(ev, cfg.RangeStart, cfg.RangeEnd) {
			return
		}
		seen[ev.ID] = true
		out.Events = append(out.Events, ev)
	}

	for _, ev := range events {
		switch {
		case ev.IsInstance && ev.RecurringEventID != "":
			// Emitted below so generated instances of the same ID lose.
		case len(ev.Recurrence) > 0:
			out.Series = append(out.Series, ev)
			instances, truncated := expandMaster(ev, cfg)
			if truncated {
				out.Truncated = append(out.Truncated, ev.ID)
				appLog.Error("expand: occurrences truncated", errors.New("max occurrences reached"),
					"master", ev.ID, "cap", cfg.MaxOccurrences)
			}
			for _, inst := range instances {
				if ov, ok := overrides[inst.ID]; ok {
					inst = ov
				}
				emit(inst)
			}
		default:
			emit(ev)
		}
	}
	for _, ev := range events {
		if ev.IsInstance && ev.RecurringEventID != "" {
			emit(ev)
		}
	}

	sort.SliceStable(out.Events, func(i, j int) bool {
		return out.Events[i].Start.Time.Before(out.Events[j].Start.Time)
	})
	return out, nil
}

func expandMaster(master model.Event, cfg ExpandConfig) ([]model.Event, bool) {
	if master.Validate() != nil {
		appLog.Error("expand: master has invalid times", model.ErrInvalidTime, "master", master.ID)
		return nil, false
	}
	loc := master.Start.Time.Location()

	set, err := rrule.StrSliceToRRuleSetInLoc(master.Recurrence, loc)
	if err != nil {
		appLog.Error("expand: recurrence not understood, showing first occurrence only", err,
			"master", master.ID, "recurrence", master.Recurrence)
		return []model.Event{instanceOf(master, master.Start.Time)}, false
	}
	set.DTStart(master.Start.Time)

	dur := master.End.Time.Sub(master.Start.Time)
	// Widen the lower bound so occurrences that began before the window
	// and are still running are included.
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	truncated := false
	if len(starts) > cfg.MaxOccurrences {
		starts = starts[:cfg.MaxOccurrences]
		truncated = true
	}

	out := make([]model.Event, 0, len(starts))
	for _, s := range starts {
		out = append(out, instanceOf(master, s))
	}
	return out, truncated
}

func instanceOf(master model.Event, start time.Time) model.Event {
	dur := master.End.Time.Sub(master.Start.Time)

	inst := master
	inst.ID = InstanceID(master.ID, start)
	inst.RecurringEventID = master.ID
	inst.Recurrence = nil
	inst.IsMaster = false
	inst.IsInstance = true
	inst.Start.Time = start
	inst.End.Time = start.Add(dur)
	return inst
}

func intersects(ev model.Event, from, to time.Time) bool {
	if ev.Validate() != nil {
		return false
	}
	if ev.End.Time.Equal(ev.Start.Time) {
		return !ev.Start.Time.Before(from) && !ev.Start.Time.After(to)
	}
	return ev.End.Time.After(from) && ev.Start.Time.Before(to)
}
