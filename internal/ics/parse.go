// Package ics loads classes from ICS feeds and writes classes back out as a
// VCALENDAR. Parsed events use the same shape as events from the backend: a
// recurring VEVENT becomes a master carrying provider-style recurrence lines
// ("RRULE:...", "EXDATE;TZID=...:..."), and a VEVENT with RECURRENCE-ID
// becomes an instance pointing at its master through RecurringEventID.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
)

// Properties used to carry class metadata through an ICS round trip.
const (
	propClassName = ical.ComponentProperty("X-SCHEDADMIN-CLASSNAME")
	propTeacher   = ical.ComponentProperty("X-SCHEDADMIN-TEACHER")
	propProgram   = ical.ComponentProperty("X-SCHEDADMIN-PROGRAM")
	propCalendar  = ical.ComponentProperty("X-SCHEDADMIN-CALENDAR")
)

// InstanceID is the identifier of the occurrence of master starting at
// start. Expanded occurrences and RECURRENCE-ID overrides share it, so an
// override replaces the generated occurrence.
func InstanceID(masterID string, start time.Time) string {
	return masterID + "_" + start.UTC().Format("20060102T150405Z")
}

// Parse reads one feed body. VEVENTs that cannot be read are logged and
// skipped.
func Parse(feed Feed, body []byte) ([]model.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.ID, err)
	}

	events := make([]model.Event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(feed, ve)
		if err != nil {
			appLog.Error("ics vevent skipped", err, "feed", feed.ID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "feed", feed.ID, "events", len(events))
	return events, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func propParam(prop *ical.IANAProperty, name string) string {
	if prop == nil || prop.ICalParameters == nil {
		return ""
	}
	if vs := prop.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func parseVEvent(feed Feed, ve *ical.VEvent) (model.Event, error) {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return model.Event{}, errors.New("missing UID")
	}

	start, err := eventTime(ve, ical.ComponentPropertyDtStart)
	if err != nil {
		return model.Event{}, fmt.Errorf("uid %s: %w", uid, err)
	}
	end, err := eventTime(ve, ical.ComponentPropertyDtEnd)
	if err != nil {
		// DTEND is optional; an all-day event lasts one day, others none.
		end = start
		if start.AllDay {
			end.Time = start.Time.AddDate(0, 0, 1)
		}
	}

	ev := model.Event{
		ID:          uid,
		Summary:     propValue(ve, ical.ComponentPropertySummary),
		Description: propValue(ve, ical.ComponentPropertyDescription),
		Location:    propValue(ve, ical.ComponentPropertyLocation),
		Start:       start,
		End:         end,
		ClassName:   propValue(ve, propClassName),
		Teacher:     propValue(ve, propTeacher),
		Program:     propValue(ve, propProgram),
		Timezone:    start.TimeZone,

		CalendarSource: propValue(ve, propCalendar),
	}
	if ev.CalendarSource == "" {
		ev.CalendarSource = feed.Calendar
	}

	if rule := propValue(ve, ical.ComponentPropertyRrule); rule != "" {
		ev.Recurrence = append(ev.Recurrence, "RRULE:"+rule)
		for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
			if line := exdateLine(ex); line != "" {
				ev.Recurrence = append(ev.Recurrence, line)
			}
		}
		ev.IsMaster = true
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		original, err := parseRecurrenceID(rid)
		if err != nil {
			return model.Event{}, fmt.Errorf("uid %s recurrence-id: %w", uid, err)
		}
		ev.ID = InstanceID(uid, original)
		ev.RecurringEventID = uid
		ev.IsInstance = true
		ev.IsMaster = false
		ev.Recurrence = nil
	}

	return model.Normalize(ev), nil
}

func eventTime(ve *ical.VEvent, p ical.ComponentProperty) (model.EventTime, error) {
	prop := ve.GetProperty(p)
	if prop == nil {
		return model.EventTime{}, fmt.Errorf("missing %s", p)
	}

	allDay := strings.EqualFold(propParam(prop, "VALUE"), "DATE") || !strings.Contains(prop.Value, "T")
	var (
		t   time.Time
		err error
	)
	switch {
	case allDay && p == ical.ComponentPropertyDtStart:
		t, err = ve.GetAllDayStartAt()
	case allDay:
		t, err = ve.GetAllDayEndAt()
	case p == ical.ComponentPropertyDtStart:
		t, err = ve.GetStartAt()
	default:
		t, err = ve.GetEndAt()
	}
	if err != nil {
		return model.EventTime{}, err
	}
	return model.EventTime{Time: t, TimeZone: propParam(prop, "TZID"), AllDay: allDay, Wrapped: true}, nil
}

// exdateLine rebuilds an EXDATE property in the single-line form the
// recurrence decoder and rrule-go read.
func exdateLine(prop *ical.IANAProperty) string {
	if strings.TrimSpace(prop.Value) == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("EXDATE")
	if tz := propParam(prop, "TZID"); tz != "" {
		b.WriteString(";TZID=" + tz)
	}
	if v := propParam(prop, "VALUE"); v != "" {
		b.WriteString(";VALUE=" + strings.ToUpper(v))
	}
	b.WriteString(":" + prop.Value)
	return b.String()
}

func parseRecurrenceID(prop *ical.IANAProperty) (time.Time, error) {
	v := strings.TrimSpace(prop.Value)
	loc := time.Local
	if tz := propParam(prop, "TZID"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
