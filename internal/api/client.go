// Package api is the client of the class-scheduling backend. The backend
// stores classes as events in two provider calendars ("odd" and "even" by
// start hour) and exposes them over a small JSON REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"schedadmin/internal/conflict"
	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
)

const (
	DefaultTimeout              = 10 * time.Second
	DefaultConflictTimeout      = 60 * time.Second
	DefaultConflictRetryTimeout = 30 * time.Second
	SuggestTimeout              = 30 * time.Second
)

var (
	// ErrNotFound matches an *Error with status 404.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps transport failures (no response from the server).
	ErrUnavailable = errors.New("cannot connect to server")
)

// Error is a non-2xx response. Message comes from the body's "detail" or
// "message" field when present.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the backend. Create it with New; fields may be adjusted
// before first use.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// Timeout bounds every call without a dedicated timeout.
	Timeout              time.Duration
	ConflictTimeout      time.Duration
	ConflictRetryTimeout time.Duration

	// Fallback answers a conflict check when both backend attempts fail.
	// Without it CheckConflict returns the last error.
	Fallback func(ctx context.Context, req conflict.Request) (conflict.Result, error)
}

// New returns a client for baseURL with the default timeouts.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:              strings.TrimRight(baseURL, "/"),
		HTTP:                 &http.Client{},
		Timeout:              DefaultTimeout,
		ConflictTimeout:      DefaultConflictTimeout,
		ConflictRetryTimeout: DefaultConflictRetryTimeout,
	}
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, in, out any) error {
	if timeout <= 0 {
		timeout = c.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	appLog.Debug("api request", "method", method, "path", path, "request_id", reqID)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data, resp.StatusCode)}
		appLog.Debug("api response error", "method", method, "path", path, "status", resp.StatusCode, "request_id", reqID)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func errorMessage(body []byte, status int) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if len(payload.Detail) > 0 && string(payload.Detail) != "null" {
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil {
				return s
			}
			return string(payload.Detail)
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fmt.Sprintf("Server error: %d", status)
}

// ListClasses returns the events of calendarType ("odd", "even" or "both";
// empty means both). Recurring series arrive expanded into instances that
// reference their master through RecurringEventID.
func (c *Client) ListClasses(ctx context.Context, calendarType string) ([]model.Event, error) {
	if calendarType == "" {
		calendarType = model.CalendarBoth
	}
	var events []model.Event
	q := url.Values{"calendar_type": {calendarType}}
	if err := c.do(ctx, 0, http.MethodGet, "/classes", q, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent fetches one event. A missing event is an error matching
// ErrNotFound.
func (c *Client) GetEvent(ctx context.Context, id string) (model.Event, error) {
	if id == "" {
		return model.Event{}, fmt.Errorf("get event: empty id: %w", ErrNotFound)
	}
	var ev model.Event
	if err := c.do(ctx, 0, http.MethodGet, "/classes/"+url.PathEscape(id), nil, nil, &ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// AddClass creates a class and returns the created event.
func (c *Client) AddClass(ctx context.Context, info model.ClassInfo) (model.Event, error) {
	var ev model.Event
	if err := c.do(ctx, 0, http.MethodPost, "/classes", nil, info, &ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// UpdateClass replaces the class with the given id.
func (c *Client) UpdateClass(ctx context.Context, id string, info model.ClassInfo) (model.Event, error) {
	var ev model.Event
	if err := c.do(ctx, 0, http.MethodPut, "/classes/"+url.PathEscape(id), nil, info, &ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// DeleteClass removes a class, or part of its series depending on mode.
func (c *Client) DeleteClass(ctx context.Context, id string, mode model.DeleteMode) error {
	if mode == "" {
		mode = model.DeleteThis
	}
	q := url.Values{"delete_mode": {string(mode)}}
	return c.do(ctx, 0, http.MethodDelete, "/classes/"+url.PathEscape(id), q, nil, nil)
}

type conflictBody struct {
	Teacher        string  `json:"teacher"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	ExcludeEventID *string `json:"exclude_event_id"`
}

// CheckConflict asks the backend whether req.Teacher is already booked.
// A failed attempt is retried once with ConflictRetryTimeout; if that fails
// too, Fallback answers.
func (c *Client) CheckConflict(ctx context.Context, req conflict.Request) (conflict.Result, error) {
	body := conflictBody{
		Teacher: req.Teacher,
		Start:   req.Start.Format(time.RFC3339),
		End:     req.End.Format(time.RFC3339),
	}
	if req.ExcludeEventID != "" {
		body.ExcludeEventID = &req.ExcludeEventID
	}

	var res conflict.Result
	err := c.do(ctx, c.ConflictTimeout, http.MethodPost, "/check-conflict", nil, body, &res)
	if err == nil {
		return res, nil
	}
	appLog.Error("conflict check failed, retrying", err, "teacher", req.Teacher)

	res = conflict.Result{}
	err = c.do(ctx, c.ConflictRetryTimeout, http.MethodPost, "/check-conflict", nil, body, &res)
	if err == nil {
		return res, nil
	}

	if c.Fallback == nil || ctx.Err() != nil {
		return conflict.Result{}, err
	}
	appLog.Error("conflict check retry failed, using local check", err, "teacher", req.Teacher)
	return c.Fallback(ctx, req)
}

// Timezone is one selectable zone.
type Timezone struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FallbackTimezones is served when the backend cannot be reached.
var FallbackTimezones = []Timezone{
	{Value: "Asia/Ho_Chi_Minh", Label: "Vietnam (UTC+7)"},
	{Value: "America/Chicago", Label: "US Central - Chicago (UTC-6/-5)"},
	{Value: "America/New_York", Label: "US Eastern - New York (UTC-5/-4)"},
	{Value: "America/Los_Angeles", Label: "US Pacific - Los Angeles (UTC-8/-7)"},
	{Value: "Europe/London", Label: "London (UTC+0/+1)"},
	{Value: "Europe/Paris", Label: "Paris (UTC+1/+2)"},
	{Value: "Asia/Tokyo", Label: "Tokyo (UTC+9)"},
	{Value: "Australia/Sydney", Label: "Sydney (UTC+10/+11)"},
}

// Timezones lists the zones the backend supports. It never fails: on error
// FallbackTimezones is returned.
func (c *Client) Timezones(ctx context.Context) []Timezone {
	var out struct {
		Timezones []Timezone `json:"timezones"`
	}
	if err := c.do(ctx, 0, http.MethodGet, "/timezones", nil, nil, &out); err != nil || len(out.Timezones) == 0 {
		if err != nil {
			appLog.Error("timezones fetch failed, using fallback", err)
		}
		return append([]Timezone(nil), FallbackTimezones...)
	}
	return out.Timezones
}

// Suggest forwards a scheduling suggestion request. The answer is returned
// as-is.
func (c *Client) Suggest(ctx context.Context, teacher string, durationHours int) (json.RawMessage, error) {
	q := url.Values{"duration_hours": {fmt.Sprint(durationHours)}}
	if teacher != "" {
		q.Set("teacher", teacher)
	}
	var out json.RawMessage
	if err := c.do(ctx, SuggestTimeout, http.MethodGet, "/ai/suggest", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health is the backend status document.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Service   string            `json:"service"`
	Calendars map[string]string `json:"calendars"`
}

// Health checks the backend.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, 0, http.MethodGet, "/health", nil, nil, &h)
	return h, err
}
