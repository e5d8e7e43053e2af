package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	// DefaultTimezone has to load on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// ErrInvalidTime is reported when an event timestamp could not be parsed.
var ErrInvalidTime = errors.New("invalid event time")

// EventTime is an event boundary as delivered by the backend. The wire form
// is either a bare timestamp string or a provider object of the shape
// {"dateTime": "...", "timeZone": "..."} (or {"date": "..."} for all-day
// events). Both are accepted; the original form is kept for re-encoding.
type EventTime struct {
	Time     time.Time
	TimeZone string
	AllDay   bool

	// Wrapped records whether the value arrived as a provider object.
	Wrapped bool
	// Raw holds the original string when it could not be parsed.
	Raw string
}

// At returns a wrapped EventTime for t.
func At(t time.Time) EventTime {
	return EventTime{Time: t, Wrapped: true}
}

// Valid reports whether the timestamp was parsed successfully.
func (t EventTime) Valid() bool {
	return !t.Time.IsZero()
}

type providerTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	*t = EventTime{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.set(s, "", false)
		return nil
	}

	var pt providerTime
	if err := json.Unmarshal(data, &pt); err != nil {
		return err
	}
	t.Wrapped = true
	t.TimeZone = pt.TimeZone
	if pt.DateTime != "" {
		t.set(pt.DateTime, pt.TimeZone, false)
	} else if pt.Date != "" {
		t.set(pt.Date, pt.TimeZone, true)
	}
	return nil
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	value := t.Raw
	if t.Valid() {
		if t.AllDay {
			value = t.Time.Format(time.DateOnly)
		} else {
			value = t.Time.Format(time.RFC3339)
		}
	}

	if !t.Wrapped {
		if value == "" {
			return []byte("null"), nil
		}
		return json.Marshal(value)
	}

	pt := providerTime{TimeZone: t.TimeZone}
	if t.AllDay {
		pt.Date = value
	} else {
		pt.DateTime = value
	}
	return json.Marshal(pt)
}

func (t *EventTime) set(s, tz string, allDay bool) {
	parsed, isDate, err := ParseTimestamp(s, tz)
	if err != nil {
		t.Raw = s
		return
	}
	t.Time = parsed
	t.AllDay = allDay || isDate
}

var zonedLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04Z07:00"}
var localLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}

// ParseTimestamp parses the timestamp shapes the backend and the form emit.
// Values without an offset are interpreted in tz when it names a known zone,
// otherwise in time.Local. The second return reports a date-only value.
func ParseTimestamp(s, tz string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, ErrInvalidTime
	}

	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, false, nil
		}
	}

	loc := time.Local
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, false, nil
		}
	}
	if ts, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return ts, true, nil
	}
	return time.Time{}, false, ErrInvalidTime
}
