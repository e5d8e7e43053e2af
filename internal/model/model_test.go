package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTimeShapes(t *testing.T) {
	var ev Event
	body := `{
		"id": "c1",
		"start": {"dateTime": "2024-03-04T19:00:00+07:00", "timeZone": "Asia/Ho_Chi_Minh"},
		"end": "2024-03-04T20:30:00+07:00",
		"colorId": "5"
	}`
	require.NoError(t, json.Unmarshal([]byte(body), &ev))

	assert.True(t, ev.Start.Wrapped)
	assert.Equal(t, "Asia/Ho_Chi_Minh", ev.Start.TimeZone)
	assert.False(t, ev.End.Wrapped)
	assert.Equal(t, 90*time.Minute, ev.End.Time.Sub(ev.Start.Time))
	assert.JSONEq(t, `"5"`, string(ev.Extra["colorId"]))

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "5", back["colorId"])
	assert.Equal(t, "2024-03-04T20:30:00+07:00", back["end"])
	assert.Equal(t, map[string]any{"dateTime": "2024-03-04T19:00:00+07:00", "timeZone": "Asia/Ho_Chi_Minh"}, back["start"])
}

func TestEventTimeAllDayAndInvalid(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","start":{"date":"2024-03-04"},"end":"not a time"}`), &ev))

	assert.True(t, ev.Start.AllDay)
	assert.True(t, ev.Start.Valid())
	assert.False(t, ev.End.Valid())
	assert.Equal(t, "not a time", ev.End.Raw)

	err := ev.Validate()
	assert.True(t, errors.Is(err, ErrInvalidTime))
	assert.Contains(t, err.Error(), "not a time")
}

func TestParseTimestampLocal(t *testing.T) {
	ts, dateOnly, err := ParseTimestamp("2024-03-04T19:00", "Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	assert.False(t, dateOnly)
	assert.Equal(t, 12, ts.UTC().Hour())

	_, _, err = ParseTimestamp("", "")
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestNormalize(t *testing.T) {
	ev := Normalize(Event{
		ID:          "c1",
		Description: "Program: IELTS<br>GV: Jane Doe<br>Join Zoom: https://us02web.zoom.us/j/123<br>Meeting ID: 123 456 789<br>Passcode: abc",
	})
	assert.Equal(t, "(untitled)", ev.Summary)
	assert.Equal(t, "Jane Doe", ev.Teacher)
	assert.Equal(t, "https://us02web.zoom.us/j/123", ev.ZoomLink)
	assert.Equal(t, "123456789", ev.MeetingID)
	assert.Equal(t, CalendarOdd, ev.CalendarSource)
	assert.Equal(t, DefaultTimezone, ev.Timezone)

	kept := Normalize(Event{Teacher: "Bob", CalendarSource: CalendarEven, Location: "https://zoom.us/j/9"})
	assert.Equal(t, "Bob", kept.Teacher)
	assert.Equal(t, CalendarEven, kept.CalendarSource)
	assert.Equal(t, "https://zoom.us/j/9", kept.ZoomLink)
}

func TestMasterID(t *testing.T) {
	assert.Equal(t, "m", Event{RecurringEventID: "m", MasterEventID: "other"}.MasterID())
	assert.Equal(t, "other", Event{MasterEventID: "other"}.MasterID())
	assert.False(t, Event{}.IsRecurring())
	assert.True(t, Event{Recurrence: []string{"RRULE:FREQ=DAILY"}}.IsRecurring())
}

func TestCalendarForHour(t *testing.T) {
	assert.Equal(t, CalendarEven, CalendarForHour(0))
	assert.Equal(t, CalendarOdd, CalendarForHour(19))
	assert.Equal(t, CalendarEven, CalendarForHour(20))
}

func TestParseDeleteMode(t *testing.T) {
	m, err := ParseDeleteMode("")
	require.NoError(t, err)
	assert.Equal(t, DeleteThis, m)

	m, err = ParseDeleteMode(" Following ")
	require.NoError(t, err)
	assert.Equal(t, DeleteFollowing, m)

	_, err = ParseDeleteMode("everything")
	assert.Error(t, err)
}
