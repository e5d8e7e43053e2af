package classform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedadmin/internal/model"
	"schedadmin/internal/recurrence"
)

var ict = time.FixedZone("ICT", 7*3600)

func validForm() Form {
	f := New()
	f.ClassName = "IELTS 6.5"
	f.Teacher = "Jane Doe"
	f.Program = "IELTS"
	f.ZoomLink = "https://us02web.zoom.us/j/123"
	f.Start = time.Date(2024, 3, 4, 19, 0, 0, 0, ict)
	f.End = time.Date(2024, 3, 4, 20, 30, 0, 0, ict)
	return f
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "IELTS 6.5 - Jane Doe - IELTS", DeriveTitle("IELTS 6.5", "Jane Doe", "IELTS"))
	assert.Equal(t, "IELTS 6.5 - Jane Doe - IELTS", validForm().Title())
}

func TestValidateRequired(t *testing.T) {
	err := New().Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, len(verr))
	for i, fe := range verr {
		fields[i] = fe.Field
	}
	assert.Equal(t, []string{"classname", "teacher", "program", "zoom_link", "start", "end"}, fields)
}

func TestValidateTimeRange(t *testing.T) {
	f := validForm()
	f.End = f.Start

	err := f.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "End time must be after start time")
}

func TestValidateRecurrenceFields(t *testing.T) {
	cases := []struct {
		rule   string
		fields []string
	}{
		{"FREQ=WEEKLY", []string{"byday"}},
		{"FREQ=WEEKLY;BYDAY=MO", nil},
		{"FREQ=MONTHLY", []string{"bymonthday"}},
		{"FREQ=YEARLY;BYMONTHDAY=1", []string{"bymonth"}},
		{"FREQ=YEARLY", []string{"bymonth", "bymonthday"}},
		{"FREQ=DAILY;COUNT=5", nil},
	}

	for _, tc := range cases {
		t.Run(tc.rule, func(t *testing.T) {
			f := validForm()
			f.Rule = recurrence.ParseRule(tc.rule)
			err := f.Validate()
			if tc.fields == nil {
				assert.NoError(t, err)
				return
			}
			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			var got []string
			for _, fe := range verr {
				got = append(got, fe.Field)
			}
			assert.Equal(t, tc.fields, got)
		})
	}
}

func TestCalendarByStartHour(t *testing.T) {
	f := validForm()
	f.Timezone = "UTC"
	f.Start = time.Date(2024, 3, 4, 19, 0, 0, 0, time.UTC)
	assert.Equal(t, model.CalendarOdd, f.Calendar())

	f.Start = time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, model.CalendarEven, f.Calendar())

	f.CalendarSource = model.CalendarOdd
	assert.Equal(t, model.CalendarOdd, f.Calendar())
}

func TestSetStartKeepsEndAfter(t *testing.T) {
	f := New()
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, ict)
	f.SetStart(start)
	assert.Equal(t, start.Add(time.Hour), f.End)

	f.End = start.Add(3 * time.Hour)
	f.SetStart(start.Add(time.Hour))
	assert.Equal(t, start.Add(3*time.Hour), f.End)
}

func TestPayload(t *testing.T) {
	f := validForm()
	f.Timezone = "UTC"
	f.Start = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	f.End = time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)
	f.Rule = recurrence.ParseRule("FREQ=WEEKLY;COUNT=8;BYDAY=MO,TH")

	p, err := f.Payload()
	require.NoError(t, err)

	assert.Equal(t, "IELTS 6.5 - Jane Doe - IELTS", p.Name)
	assert.Equal(t, f.ZoomLink, p.Location)
	assert.Equal(t, "WEEKLY", p.Recurrence)
	assert.Equal(t, 8, p.RepeatCount)
	assert.Equal(t, []string{"MO", "TH"}, p.ByDay)
	assert.Equal(t, model.CalendarEven, p.CalendarSource)
	assert.Equal(t, "UTC", p.Timezone)

	_, err = New().Payload()
	assert.ErrorIs(t, err, ErrInvalid)
}

type stubLookup struct{ ev model.Event }

func (s stubLookup) GetEvent(context.Context, string) (model.Event, error) { return s.ev, nil }

func TestFromEventResolvesMaster(t *testing.T) {
	master := model.Event{ID: "m", Recurrence: []string{"RRULE:FREQ=WEEKLY;COUNT=10;BYDAY=TU"}}
	res := recurrence.NewResolver(nil, stubLookup{ev: master})

	ev := model.Event{
		ID:               "m_20240305",
		Summary:          "IELTS 6.5 - Jane Doe - IELTS",
		Description:      "Join https://us02web.zoom.us/j/999\nPasscode: abc",
		Start:            model.At(time.Date(2024, 3, 5, 19, 0, 0, 0, ict)),
		End:              model.At(time.Date(2024, 3, 5, 20, 0, 0, 0, ict)),
		RecurringEventID: "m",
	}
	f := FromEvent(context.Background(), res, ev)

	assert.Equal(t, "IELTS 6.5", f.ClassName)
	assert.Equal(t, "Jane Doe", f.Teacher)
	assert.Equal(t, "IELTS", f.Program)
	assert.Equal(t, "https://us02web.zoom.us/j/999", f.ZoomLink)
	assert.Equal(t, "abc", f.Passcode)
	assert.Equal(t, recurrence.Weekly, f.Rule.Frequency)
	assert.Equal(t, 10, f.Rule.Count)
	assert.Empty(t, f.CalendarSource)
	assert.NoError(t, f.Validate())
}
