// Package classform holds the class editor's derivations: the event title,
// validation, calendar routing by start hour, and the payload sent to the
// backend on create and update.
package classform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedadmin/internal/model"
	"schedadmin/internal/recurrence"
)

// DefaultDuration is applied when a form has a start but no usable end.
const DefaultDuration = time.Hour

// Form is the editable state of one class.
type Form struct {
	ClassName string
	Teacher   string
	Program   string
	ZoomLink  string
	MeetingID string
	Passcode  string

	Start    time.Time
	End      time.Time
	Timezone string

	Rule recurrence.Rule

	// CalendarSource overrides routing by start hour when set.
	CalendarSource string
}

// New returns an empty form with the defaults of the editor.
func New() Form {
	return Form{Timezone: model.DefaultTimezone, Rule: recurrence.Default()}
}

// DeriveTitle builds the event summary "<classname> - <teacher> - <program>".
func DeriveTitle(classname, teacher, program string) string {
	return fmt.Sprintf("%s - %s - %s", classname, teacher, program)
}

// Title is DeriveTitle over the form fields.
func (f Form) Title() string {
	return DeriveTitle(strings.TrimSpace(f.ClassName), strings.TrimSpace(f.Teacher), strings.TrimSpace(f.Program))
}

// Location returns the form's time zone, or DefaultTimezone's zone, or UTC.
func (f Form) Location() *time.Location {
	for _, name := range []string{f.Timezone, model.DefaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Calendar returns the provider calendar the class is stored in: the
// explicit CalendarSource, otherwise odd or even by the start hour in the
// form's time zone.
func (f Form) Calendar() string {
	if f.CalendarSource == model.CalendarOdd || f.CalendarSource == model.CalendarEven {
		return f.CalendarSource
	}
	return model.CalendarForHour(f.Start.In(f.Location()).Hour())
}

// SetStart moves the start and keeps the end after it: an end at or before
// the new start is replaced by start + DefaultDuration.
func (f *Form) SetStart(start time.Time) {
	f.Start = start
	if f.End.IsZero() || !f.End.After(start) {
		f.End = start.Add(DefaultDuration)
	}
}

// FieldError is one failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ErrInvalid is matched by every error Validate returns.
var ErrInvalid = errors.New("invalid class form")

// ValidationError lists all failed fields.
type ValidationError []FieldError

func (v ValidationError) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Validate checks required fields, the time range and the recurrence fields
// the chosen frequency needs. It returns nil or a ValidationError.
func (f Form) Validate() error {
	var errs ValidationError
	add := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(f.ClassName) == "" {
		add("classname", "Class name is required")
	}
	if strings.TrimSpace(f.Teacher) == "" {
		add("teacher", "Teacher is required")
	}
	if strings.TrimSpace(f.Program) == "" {
		add("program", "Program is required")
	}
	if strings.TrimSpace(f.ZoomLink) == "" {
		add("zoom_link", "Zoom link is required")
	}
	if f.Start.IsZero() {
		add("start", "Start time is required")
	}
	if f.End.IsZero() {
		add("end", "End time is required")
	}
	if !f.Start.IsZero() && !f.End.IsZero() && !f.End.After(f.Start) {
		add("end", "End time must be after start time")
	}

	switch f.Rule.Frequency {
	case recurrence.Weekly:
		if len(f.Rule.ByDay) == 0 {
			add("byday", "Please select at least one day for weekly recurrence")
		}
	case recurrence.Monthly:
		if len(f.Rule.ByMonthDay) == 0 {
			add("bymonthday", "Please enter at least one day for monthly recurrence")
		}
	case recurrence.Yearly:
		if len(f.Rule.ByMonth) == 0 {
			add("bymonth", "Please enter at least one month for yearly recurrence")
		}
		if len(f.Rule.ByMonthDay) == 0 {
			add("bymonthday", "Please enter at least one day for yearly recurrence")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Payload validates the form and builds the create/update body. The
// location is the Zoom link; recurrence fields are passed through as-is.
func (f Form) Payload() (model.ClassInfo, error) {
	if err := f.Validate(); err != nil {
		return model.ClassInfo{}, err
	}

	tz := f.Timezone
	if tz == "" {
		tz = model.DefaultTimezone
	}
	rf := f.Rule.Payload()

	return model.ClassInfo{
		Name:      f.Title(),
		ClassName: strings.TrimSpace(f.ClassName),
		Teacher:   strings.TrimSpace(f.Teacher),
		ZoomLink:  strings.TrimSpace(f.ZoomLink),
		Program:   strings.TrimSpace(f.Program),
		MeetingID: strings.TrimSpace(f.MeetingID),
		Passcode:  strings.TrimSpace(f.Passcode),
		Location:  strings.TrimSpace(f.ZoomLink),

		Start:    f.Start.UTC(),
		End:      f.End.UTC(),
		Timezone: tz,

		Recurrence:  rf.Recurrence,
		RepeatCount: rf.RepeatCount,
		ByDay:       rf.ByDay,
		ByMonthDay:  rf.ByMonthDay,
		ByMonth:     rf.ByMonth,

		CalendarSource: f.Calendar(),
	}, nil
}

// FromEvent pre-fills a form for editing ev. The recurrence comes from the
// event or, for an instance, from its master through res.
func FromEvent(ctx context.Context, res *recurrence.Resolver, ev model.Event) Form {
	source := ev.CalendarSource
	ev = model.Normalize(ev)

	f := New()
	f.ClassName = ev.ClassName
	f.Teacher = ev.Teacher
	f.Program = ev.Program
	f.ZoomLink = ev.ZoomLink
	f.MeetingID = ev.MeetingID
	f.Passcode = ev.Passcode
	f.Start = ev.Start.Time
	f.End = ev.End.Time
	f.Timezone = ev.Timezone
	f.CalendarSource = source
	f.Rule = res.Resolve(ctx, ev)

	// Summaries written by the editor carry the three parts when the
	// metadata fields are missing.
	if parts := strings.Split(ev.Summary, " - "); len(parts) == 3 {
		if f.ClassName == "" {
			f.ClassName = strings.TrimSpace(parts[0])
		}
		if f.Teacher == "" {
			f.Teacher = strings.TrimSpace(parts[1])
		}
		if f.Program == "" {
			f.Program = strings.TrimSpace(parts[2])
		}
	}
	return f
}
