package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"schedadmin/internal/description"
)

// Calendar sources. Classes are routed to one of two provider calendars by
// the parity of their start hour.
const (
	CalendarOdd  = "odd"
	CalendarEven = "even"
	CalendarBoth = "both"
)

// DefaultTimezone is used when neither the event nor the form names one.
const DefaultTimezone = "Asia/Ho_Chi_Minh"

// Event is a class as delivered by the backend: a provider calendar event
// plus the class metadata the backend attaches. Fields the module does not
// know about are kept in Extra and written back unchanged.
type Event struct {
	ID          string `json:"id"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start EventTime `json:"start"`
	End   EventTime `json:"end"`

	// Recurrence holds provider recurrence lines ("RRULE:...", "EXDATE:...").
	// Only master events carry it; instances reference the master through
	// RecurringEventID instead.
	Recurrence       []string `json:"recurrence,omitempty"`
	RecurringEventID string   `json:"recurringEventId,omitempty"`

	ClassName string `json:"classname,omitempty"`
	Teacher   string `json:"teacher,omitempty"`
	Program   string `json:"program,omitempty"`
	ZoomLink  string `json:"zoom_link,omitempty"`
	MeetingID string `json:"meeting_id,omitempty"`
	Passcode  string `json:"passcode,omitempty"`
	Timezone  string `json:"timezone,omitempty"`

	CalendarSource string `json:"_calendar_source,omitempty"`
	IsMaster       bool   `json:"_is_master,omitempty"`
	IsInstance     bool   `json:"_is_instance,omitempty"`
	MasterEventID  string `json:"_master_event_id,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type eventAlias Event

func (e *Event) UnmarshalJSON(data []byte) error {
	var alias eventAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range knownEventKeys {
		delete(all, key)
	}
	if len(all) > 0 {
		alias.Extra = all
	}

	*e = Event(alias)
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

var knownEventKeys = []string{
	"id", "summary", "description", "location", "start", "end",
	"recurrence", "recurringEventId", "classname", "teacher", "program",
	"zoom_link", "meeting_id", "passcode", "timezone",
	"_calendar_source", "_is_master", "_is_instance", "_master_event_id",
}

// MasterID returns the identifier of the series master this event belongs
// to, or "" for a standalone event.
func (e Event) MasterID() string {
	if e.RecurringEventID != "" {
		return e.RecurringEventID
	}
	return e.MasterEventID
}

// IsRecurring reports whether the event is part of a series.
func (e Event) IsRecurring() bool {
	return len(e.Recurrence) > 0 || e.MasterID() != ""
}

// Validate checks that both boundaries parsed.
func (e Event) Validate() error {
	if !e.Start.Valid() {
		return fmt.Errorf("event %q start %q: %w", e.ID, e.Start.Raw, ErrInvalidTime)
	}
	if !e.End.Valid() {
		return fmt.Errorf("event %q end %q: %w", e.ID, e.End.Raw, ErrInvalidTime)
	}
	return nil
}

// Normalize fills class metadata that is missing on the event from the
// free-text description, and applies display defaults.
func Normalize(e Event) Event {
	info := description.Parse(e.Description)

	if e.Summary == "" {
		e.Summary = "(untitled)"
	}
	if e.ClassName == "" {
		e.ClassName = info.ClassName
	}
	if e.Teacher == "" {
		e.Teacher = info.Teacher
	}
	if e.Program == "" {
		e.Program = info.Program
	}
	if e.ZoomLink == "" {
		e.ZoomLink = info.ZoomLink
	}
	if e.ZoomLink == "" && strings.Contains(e.Location, "zoom.us") {
		e.ZoomLink = e.Location
	}
	if e.MeetingID == "" {
		e.MeetingID = info.MeetingID
	}
	if e.Passcode == "" {
		e.Passcode = info.Passcode
	}
	if e.Timezone == "" {
		e.Timezone = e.Start.TimeZone
	}
	if e.Timezone == "" {
		e.Timezone = e.End.TimeZone
	}
	if e.Timezone == "" {
		e.Timezone = DefaultTimezone
	}
	if e.CalendarSource == "" {
		e.CalendarSource = CalendarOdd
	}
	return e
}

// CalendarForHour routes a start hour to the odd or even calendar.
func CalendarForHour(hour int) string {
	if hour%2 == 0 {
		return CalendarEven
	}
	return CalendarOdd
}

// DeleteMode selects how much of a series a delete removes.
type DeleteMode string

const (
	DeleteThis      DeleteMode = "this"
	DeleteFollowing DeleteMode = "following"
	DeleteAll       DeleteMode = "all"
)

// ParseDeleteMode validates a delete mode string, defaulting to DeleteThis.
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeleteThis:
		return DeleteThis, nil
	case DeleteFollowing:
		return DeleteFollowing, nil
	case DeleteAll:
		return DeleteAll, nil
	default:
		return "", fmt.Errorf("unknown delete mode %q", s)
	}
}

// ClassInfo is the outbound payload for creating or updating a class.
// Recurrence fields are sent as separate properties; the backend assembles
// the RRULE from them.
type ClassInfo struct {
	Name      string `json:"name"`
	ClassName string `json:"classname"`
	Teacher   string `json:"teacher"`
	ZoomLink  string `json:"zoom_link"`
	Program   string `json:"program"`
	MeetingID string `json:"meeting_id"`
	Passcode  string `json:"passcode"`
	Location  string `json:"location"`

	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`

	Recurrence  string   `json:"recurrence"`
	RepeatCount int      `json:"repeat_count"`
	ByDay       []string `json:"byday"`
	ByMonthDay  []int    `json:"bymonthday"`
	ByMonth     []int    `json:"bymonth"`

	CalendarSource string `json:"calendar_source"`
}
