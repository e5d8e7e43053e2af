package store

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedadmin/internal/ics"
	"schedadmin/internal/model"
	"schedadmin/internal/recurrence"
)

type fakeLister struct {
	events []model.Event
	err    error
	calls  int
}

func (f *fakeLister) ListClasses(_ context.Context, calendarType string) ([]model.Event, error) {
	f.calls++
	return f.events, f.err
}

type staticSource struct {
	snap Snapshot
	err  error
}

func (s staticSource) Load(context.Context) (Snapshot, error) { return s.snap, s.err }

func event(id string, start time.Time, recurrence ...string) model.Event {
	return model.Event{
		ID:         id,
		Summary:    id,
		Start:      model.At(start),
		End:        model.At(start.Add(time.Hour)),
		Recurrence: recurrence,
	}
}

func TestStoreFindPrefersSeries(t *testing.T) {
	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	s := New()
	s.Replace(Snapshot{
		Events: []model.Event{event("m1", start), event("e1", start)},
		Series: []model.Event{event("m1", start, "RRULE:FREQ=WEEKLY;BYDAY=MO")},
	})

	ev, ok := s.Find("m1")
	require.True(t, ok)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"}, ev.Recurrence)

	_, ok = s.Find("missing")
	assert.False(t, ok)
	assert.Len(t, s.Events(), 2)
	assert.Len(t, s.Series(), 1)
}

func TestStoreAsLocalLookup(t *testing.T) {
	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	s := New()
	s.Replace(Snapshot{Series: []model.Event{event("m1", start, "RRULE:FREQ=WEEKLY;COUNT=3;BYDAY=MO")}})

	inst := event("m1_20240311", start.AddDate(0, 0, 7))
	inst.RecurringEventID = "m1"

	rule, from := recurrence.NewResolver(s, nil).ResolveDetailed(context.Background(), inst)
	assert.Equal(t, recurrence.FromLocal, from)
	assert.Equal(t, recurrence.Weekly, rule.Frequency)
	assert.Equal(t, 3, rule.Count)
}

func TestRefreshKeepsSnapshotOnError(t *testing.T) {
	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	s := New()
	require.NoError(t, s.Refresh(context.Background(), staticSource{snap: Snapshot{Events: []model.Event{event("a", start)}}}))

	loaded, lastErr := s.Status()
	assert.False(t, loaded.IsZero())
	assert.NoError(t, lastErr)

	boom := errors.New("boom")
	err := s.Refresh(context.Background(), staticSource{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.Events(), 1)

	_, lastErr = s.Status()
	assert.ErrorIs(t, lastErr, boom)
}

func TestClassesSource(t *testing.T) {
	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{events: []model.Event{
		event("m1", start, "RRULE:FREQ=DAILY;COUNT=2"),
		event("one", start),
	}}
	snap, err := ClassesSource{API: lister, CalendarType: model.CalendarBoth}.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Events, 2)
	require.Len(t, snap.Series, 1)
	assert.Equal(t, "m1", snap.Series[0].ID)

	lister.err = errors.New("down")
	_, err = ClassesSource{API: lister}.Load(context.Background())
	assert.Error(t, err)
}

func TestMultiSource(t *testing.T) {
	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	ok := staticSource{snap: Snapshot{Events: []model.Event{event("late", start.Add(time.Hour)), event("early", start)}}}
	bad := staticSource{err: errors.New("down")}

	snap, err := MultiSource{ok, bad}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "early", snap.Events[0].ID)

	_, err = MultiSource{bad, bad}.Load(context.Background())
	assert.Error(t, err)
}

const feedBody = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:daily\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240304T120000Z\r\n" +
	"DTEND:20240304T130000Z\r\n" +
	"SUMMARY:Speaking - Ann - IELTS\r\n" +
	"RRULE:FREQ=DAILY;COUNT=10\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestFeedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	src := FeedSource{
		Fetcher:  ics.NewFetcher(t.TempDir(), time.Second),
		Feeds:    []ics.Feed{{ID: "f", URL: srv.URL, Calendar: model.CalendarEven}},
		Backfill: 24 * time.Hour,
		Horizon:  2 * 24 * time.Hour,
		Now:      func() time.Time { return time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC) },
	}
	snap, err := src.Load(context.Background())
	require.NoError(t, err)

	// Window is Mar 5 00:00 to Mar 8 00:00.
	var days []int
	for _, ev := range snap.Events {
		days = append(days, ev.Start.Time.UTC().Day())
	}
	assert.Equal(t, []int{5, 6, 7}, days)
	require.Len(t, snap.Series, 1)
	assert.Equal(t, "daily", snap.Series[0].ID)
}

func TestRefresherRejectsBadSchedule(t *testing.T) {
	_, err := NewRefresher(New(), staticSource{}, "not a schedule", time.UTC, time.Second)
	assert.Error(t, err)
}

func TestRefresherStartLoadsImmediately(t *testing.T) {
	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	s := New()
	r, err := NewRefresher(s, staticSource{snap: Snapshot{Events: []model.Event{event("a", start)}}}, "@every 1h", time.UTC, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	assert.Len(t, s.Events(), 1)
	assert.False(t, r.Next().IsZero())
}
