package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"schedadmin/internal/model"
)

// Export renders events as a VCALENDAR named name. Masters keep their
// recurrence lines; instances get a RECURRENCE-ID so that importing the
// calendar next to its masters replaces the right occurrences.
func Export(events []model.Event, name string, now time.Time) string {
	cal := ical.NewCalendarFor("schedadmin")
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		if ev.Validate() != nil {
			continue
		}
		uid := ev.ID
		if ev.IsInstance && ev.RecurringEventID != "" {
			uid = ev.RecurringEventID
		}

		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(now)
		ve.SetSummary(ev.Summary)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if loc := ev.Location; loc != "" {
			ve.SetLocation(loc)
		} else if ev.ZoomLink != "" {
			ve.SetLocation(ev.ZoomLink)
		}

		if ev.Start.AllDay {
			ve.SetAllDayStartAt(ev.Start.Time)
			ve.SetAllDayEndAt(ev.End.Time)
		} else {
			ve.SetStartAt(ev.Start.Time)
			ve.SetEndAt(ev.End.Time)
		}

		for _, line := range ev.Recurrence {
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			switch {
			case strings.EqualFold(name, "RRULE"):
				ve.AddRrule(value)
			case strings.HasPrefix(strings.ToUpper(name), "EXDATE"):
				var params []ical.PropertyParameter
				for _, p := range strings.Split(name, ";")[1:] {
					if k, v, ok := strings.Cut(p, "="); ok && strings.EqualFold(k, "TZID") {
						params = append(params, ical.WithTZID(v))
					} else if ok && strings.EqualFold(k, "VALUE") {
						params = append(params, ical.WithValue(v))
					}
				}
				ve.AddExdate(value, params...)
			}
		}

		if ev.IsInstance && ev.RecurringEventID != "" {
			ve.SetProperty(ical.ComponentPropertyRecurrenceId, ev.Start.Time.UTC().Format("20060102T150405Z"))
		}

		setIf(ve, propClassName, ev.ClassName)
		setIf(ve, propTeacher, ev.Teacher)
		setIf(ve, propProgram, ev.Program)
		setIf(ve, propCalendar, ev.CalendarSource)
	}

	return cal.Serialize()
}

func setIf(ve *ical.VEvent, p ical.ComponentProperty, v string) {
	if v != "" {
		ve.SetProperty(p, v)
	}
}
