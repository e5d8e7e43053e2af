package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"schedadmin/internal/api"
	"schedadmin/internal/conflict"
	"schedadmin/internal/ics"
	"schedadmin/internal/layout"
	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
	"schedadmin/internal/recurrence"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// dayQuery resolves the ?date=YYYY-MM-DD&tz=Area/City parameters. Without a
// date the current day in the configured zone is used.
func (s *Server) dayQuery(r *http.Request) (time.Time, error) {
	loc := s.loc
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		return time.Now().In(loc), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
	}
	return day, nil
}

// layoutDay filters the store to day and positions what is left.
func (s *Server) layoutDay(r *http.Request, day time.Time) ([]layout.Positioned, layout.Mode, error) {
	engine := s.engine
	if m := r.URL.Query().Get("mode"); m != "" {
		mode, err := layout.ParseMode(m)
		if err != nil {
			return nil, "", err
		}
		engine.Mode = mode
	}
	if engine.Mode == "" {
		engine.Mode = layout.ModePerEvent
	}
	events := layout.FilterDay(s.store.Events(), day)
	positioned, err := engine.Layout(day, events)
	return positioned, engine.Mode, err
}

type dayResponse struct {
	Date     string              `json:"date"`
	Timezone string              `json:"timezone"`
	Mode     layout.Mode         `json:"mode"`
	Events   []layout.Positioned `json:"events"`
}

// handleDay returns the positioned events of one day.
//
// GET /api/day?date=2024-03-04&tz=Asia/Ho_Chi_Minh&mode=connected
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positioned, mode, err := s.layoutDay(r, day)
	if err != nil {
		if errors.Is(err, layout.ErrInvalidTime) {
			appLog.Error("api day: layout failed", err)
			writeError(w, http.StatusInternalServerError, "event with invalid time")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dayResponse{
		Date:     day.Format(time.DateOnly),
		Timezone: day.Location().String(),
		Mode:     mode,
		Events:   positioned,
	})
}

type ruleResponse struct {
	Rule        recurrence.Rule          `json:"rule"`
	Encoded     string                   `json:"encoded"`
	Description string                   `json:"description"`
	Payload     recurrence.PayloadFields `json:"payload"`
	Occurrences []time.Time              `json:"occurrences,omitempty"`
}

const maxPreview = 100

// handleRule decodes a rule string and optionally previews its dates.
//
// GET /api/rule?rrule=FREQ=WEEKLY;BYDAY=MO&dtstart=2024-03-04T19:00:00+07:00&count=5
func (s *Server) handleRule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rule := recurrence.ParseRule(q.Get("rrule"))

	tz := q.Get("tz")
	if tz == "" {
		tz = s.loc.String()
	}
	resp := ruleResponse{
		Rule:        rule,
		Encoded:     rule.String(),
		Description: recurrence.Describe(rule, tz),
		Payload:     rule.Payload(),
	}

	if raw := q.Get("dtstart"); raw != "" {
		dtstart, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dtstart must be RFC3339")
			return
		}
		n := min(max(parseIntDefault(q.Get("count"), 10), 1), maxPreview)
		resp.Occurrences, err = recurrence.Occurrences(rule, dtstart, n)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type recurrenceResponse struct {
	ID          string                `json:"id"`
	MasterID    string                `json:"master_id,omitempty"`
	Source      recurrence.Resolution `json:"source"`
	Rule        recurrence.Rule       `json:"rule"`
	Encoded     string                `json:"encoded"`
	Description string                `json:"description"`
}

// handleRecurrence resolves the rule of a class, following instances to
// their master.
func (s *Server) handleRecurrence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	ev, ok := s.lookupEvent(w, r, id)
	if !ok {
		return
	}

	rule, from := s.resolver.ResolveDetailed(ctx, ev)
	tz := ev.Timezone
	if tz == "" {
		tz = s.loc.String()
	}
	writeJSON(w, http.StatusOK, recurrenceResponse{
		ID:          id,
		MasterID:    ev.RecurringEventID,
		Source:      from,
		Rule:        rule,
		Encoded:     rule.String(),
		Description: recurrence.Describe(rule, tz),
	})
}

// lookupEvent finds a class in the store, then on the backend. It writes
// the error response itself when the class cannot be had.
func (s *Server) lookupEvent(w http.ResponseWriter, r *http.Request, id string) (model.Event, bool) {
	if ev, ok := s.store.Find(id); ok {
		return ev, true
	}
	if s.remote == nil {
		writeError(w, http.StatusNotFound, "class not found")
		return model.Event{}, false
	}
	ev, err := s.remote.GetEvent(r.Context(), id)
	if errors.Is(err, api.ErrNotFound) {
		writeError(w, http.StatusNotFound, "class not found")
		return model.Event{}, false
	}
	if err != nil {
		appLog.Error("api: event lookup failed", err, "id", id)
		writeError(w, http.StatusBadGateway, "backend unavailable")
		return model.Event{}, false
	}
	return ev, true
}

// handleConflict checks a teacher booking, through the backend when one is
// configured.
func (s *Server) handleConflict(w http.ResponseWriter, r *http.Request) {
	var req conflict.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Teacher == "" || !req.End.After(req.Start) {
		writeError(w, http.StatusBadRequest, "teacher, start and end (after start) are required")
		return
	}

	if s.conflicts == nil {
		writeJSON(w, http.StatusOK, conflict.Check(s.store.Events(), req))
		return
	}
	res, err := s.conflicts.CheckConflict(r.Context(), req)
	if err != nil {
		appLog.Error("api conflict: check failed", err, "teacher", req.Teacher)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}
	if err := s.refresh(r.Context()); err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	loaded, _ := s.store.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"events":    len(s.store.Events()),
		"loaded_at": loaded,
	})
}

// handleDayICS exports the classes of one day as a calendar file.
func (s *Server) handleDayICS(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := layout.FilterDay(s.store.Events(), day)
	name := "Classes " + day.Format(time.DateOnly)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="classes-`+day.Format(time.DateOnly)+`.ics"`)
	_, _ = w.Write([]byte(ics.Export(events, name, time.Now())))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
