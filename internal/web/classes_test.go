package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedadmin/internal/api"
	"schedadmin/internal/model"
)

type fakeClasses struct {
	mu      sync.Mutex
	added   []model.ClassInfo
	updated map[string]model.ClassInfo
	deleted map[string]model.DeleteMode
	err     error
}

func newFakeClasses() *fakeClasses {
	return &fakeClasses{updated: map[string]model.ClassInfo{}, deleted: map[string]model.DeleteMode{}}
}

func (f *fakeClasses) AddClass(_ context.Context, info model.ClassInfo) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Event{}, f.err
	}
	f.added = append(f.added, info)
	return model.Event{ID: "new1", Summary: info.Name}, nil
}

func (f *fakeClasses) UpdateClass(_ context.Context, id string, info model.ClassInfo) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Event{}, f.err
	}
	f.updated[id] = info
	return model.Event{ID: id, Summary: info.Name}, nil
}

func (f *fakeClasses) DeleteClass(_ context.Context, id string, mode model.DeleteMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted[id] = mode
	return nil
}

func (f *fakeClasses) Timezones(context.Context) []api.Timezone {
	return []api.Timezone{{Value: "UTC", Label: "UTC"}}
}

func (f *fakeClasses) Suggest(_ context.Context, teacher string, hours int) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"teacher":"` + teacher + `","slots":[]}`), nil
}

func (f *fakeClasses) Health(context.Context) (api.Health, error) {
	if f.err != nil {
		return api.Health{}, f.err
	}
	return api.Health{Status: "healthy", Service: "backend"}, nil
}

func send(t *testing.T, method, url, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

const weeklyMath = `{
	"classname": "Math",
	"teacher": " Jane Doe ",
	"program": "IELTS",
	"zoom_link": "https://zoom.us/j/1",
	"start": "2024-03-04T19:00:00+07:00",
	"recurrence": "weekly",
	"repeat_count": 4,
	"byday": ["MO"]
}`

func TestCreateClassBuildsPayload(t *testing.T) {
	backend := newFakeClasses()
	srv := newTestServer(t, Options{Classes: backend})

	var ev model.Event
	resp := send(t, http.MethodPost, srv.URL+"/api/classes", weeklyMath, &ev)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "new1", ev.ID)

	require.Len(t, backend.added, 1)
	info := backend.added[0]
	assert.Equal(t, "Math - Jane Doe - IELTS", info.Name)
	assert.Equal(t, "Jane Doe", info.Teacher)
	assert.Equal(t, "https://zoom.us/j/1", info.Location)
	assert.Equal(t, model.CalendarOdd, info.CalendarSource)
	assert.Equal(t, time.Hour, info.End.Sub(info.Start))
	assert.Equal(t, 12, info.Start.Hour())
	assert.Equal(t, "WEEKLY", info.Recurrence)
	assert.Equal(t, 4, info.RepeatCount)
	assert.Equal(t, []string{"MO"}, info.ByDay)
	assert.Equal(t, model.DefaultTimezone, info.Timezone)
}

func TestCreateClassValidation(t *testing.T) {
	backend := newFakeClasses()
	srv := newTestServer(t, Options{Classes: backend})

	var out fieldErrorsResponse
	resp := send(t, http.MethodPost, srv.URL+"/api/classes",
		`{"classname":"Math","start":"2024-03-04T19:00:00+07:00","recurrence":"WEEKLY"}`, &out)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var fields []string
	for _, fe := range out.Fields {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"teacher", "program", "zoom_link", "byday"}, fields)
	assert.Contains(t, out.Error, "Please select at least one day for weekly recurrence")
	assert.Empty(t, backend.added)

	resp = send(t, http.MethodPost, srv.URL+"/api/classes", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClassWritesNeedBackend(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp := send(t, http.MethodPost, srv.URL+"/api/classes", weeklyMath, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = send(t, http.MethodDelete, srv.URL+"/api/classes/a", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUpdateClass(t *testing.T) {
	backend := newFakeClasses()
	refreshed := make(chan struct{}, 1)
	srv := newTestServer(t, Options{
		Classes: backend,
		Refresh: func(context.Context) error { refreshed <- struct{}{}; return nil },
	})

	body := strings.Replace(weeklyMath, `"start"`, `"end": "2024-03-04T21:00:00+07:00", "start"`, 1)
	var ev model.Event
	resp := send(t, http.MethodPut, srv.URL+"/api/classes/c1", body, &ev)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c1", ev.ID)

	backend.mu.Lock()
	info := backend.updated["c1"]
	backend.mu.Unlock()
	assert.Equal(t, 2*time.Hour, info.End.Sub(info.Start))

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("store not refreshed after update")
	}
}

func TestDeleteClass(t *testing.T) {
	backend := newFakeClasses()
	srv := newTestServer(t, Options{Classes: backend})

	resp := send(t, http.MethodDelete, srv.URL+"/api/classes/c1?delete_mode=all", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = send(t, http.MethodDelete, srv.URL+"/api/classes/c2", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, map[string]model.DeleteMode{"c1": model.DeleteAll, "c2": model.DeleteThis}, backend.deleted)

	resp = send(t, http.MethodDelete, srv.URL+"/api/classes/c3?delete_mode=everything", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClassBackendErrors(t *testing.T) {
	backend := newFakeClasses()
	backend.err = &api.Error{Method: http.MethodDelete, Path: "/classes/c1", Status: http.StatusNotFound, Message: "Event not found"}
	srv := newTestServer(t, Options{Classes: backend})

	var out map[string]string
	resp := send(t, http.MethodDelete, srv.URL+"/api/classes/c1", "", &out)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Event not found", out["error"])

	backend.err = errors.New("connection refused")
	resp = send(t, http.MethodPost, srv.URL+"/api/classes", weeklyMath, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestClassForm(t *testing.T) {
	srv := newTestServer(t, Options{Store: seeded()})

	var out formResponse
	resp := getJSON(t, srv.URL+"/api/classes/m1_20240304/form", &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "m1_20240304 - Jane Doe - IELTS", out.Title)
	assert.Equal(t, "IELTS", out.Form.Program)
	assert.Equal(t, "WEEKLY", out.Form.Recurrence)
	assert.Equal(t, 5, out.Form.RepeatCount)
	assert.Equal(t, []string{"MO", "WE"}, out.Form.ByDay)
	assert.Equal(t, model.CalendarOdd, out.Form.CalendarSource)
	assert.Equal(t, "Weekly on Monday, Wednesday, 5 times (Asia/Ho_Chi_Minh)", out.Description)

	resp = getJSON(t, srv.URL+"/api/classes/missing/form", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimezones(t *testing.T) {
	var out struct {
		Timezones []api.Timezone `json:"timezones"`
	}
	getJSON(t, newTestServer(t, Options{}).URL+"/api/timezones", &out)
	assert.Equal(t, api.FallbackTimezones, out.Timezones)

	out.Timezones = nil
	getJSON(t, newTestServer(t, Options{Classes: newFakeClasses()}).URL+"/api/timezones", &out)
	assert.Equal(t, []api.Timezone{{Value: "UTC", Label: "UTC"}}, out.Timezones)
}

func TestSuggest(t *testing.T) {
	srv := newTestServer(t, Options{Classes: newFakeClasses()})

	var out map[string]any
	resp := getJSON(t, srv.URL+"/api/suggest?teacher=Jane&duration_hours=2", &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Jane", out["teacher"])

	resp = getJSON(t, srv.URL+"/api/suggest?duration_hours=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	backend := newFakeClasses()
	srv := newTestServer(t, Options{Store: seeded(), Classes: backend})

	var out statusResponse
	getJSON(t, srv.URL+"/api/status", &out)
	assert.Equal(t, 4, out.Events)
	assert.Equal(t, 1, out.Series)
	require.NotNil(t, out.Backend)
	assert.Equal(t, "healthy", out.Backend.Status)

	backend.err = errors.New("connection refused")
	out = statusResponse{}
	getJSON(t, srv.URL+"/api/status", &out)
	assert.Nil(t, out.Backend)
	assert.Equal(t, "connection refused", out.BackendError)
}
