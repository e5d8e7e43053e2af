package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"schedadmin/internal/api"
	"schedadmin/internal/classform"
	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
	"schedadmin/internal/recurrence"
)

// ClassBackend stores classes. *api.Client implements it.
type ClassBackend interface {
	AddClass(ctx context.Context, info model.ClassInfo) (model.Event, error)
	UpdateClass(ctx context.Context, id string, info model.ClassInfo) (model.Event, error)
	DeleteClass(ctx context.Context, id string, mode model.DeleteMode) error
	Timezones(ctx context.Context) []api.Timezone
	Suggest(ctx context.Context, teacher string, durationHours int) (json.RawMessage, error)
	Health(ctx context.Context) (api.Health, error)
}

var _ ClassBackend = (*api.Client)(nil)

// classDoc is the JSON shape of the class editor, used both for requests
// and for pre-filled forms.
type classDoc struct {
	ClassName string `json:"classname"`
	Teacher   string `json:"teacher"`
	Program   string `json:"program"`
	ZoomLink  string `json:"zoom_link"`
	MeetingID string `json:"meeting_id"`
	Passcode  string `json:"passcode"`

	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`

	recurrence.PayloadFields

	CalendarSource string `json:"calendar_source,omitempty"`
}

func (d classDoc) form() classform.Form {
	f := classform.New()
	f.ClassName = d.ClassName
	f.Teacher = d.Teacher
	f.Program = d.Program
	f.ZoomLink = d.ZoomLink
	f.MeetingID = d.MeetingID
	f.Passcode = d.Passcode
	if d.Timezone != "" {
		f.Timezone = d.Timezone
	}
	f.Start = d.Start
	f.End = d.End
	// Without an end the editor proposes start + one hour.
	if f.End.IsZero() && !f.Start.IsZero() {
		f.SetStart(f.Start)
	}
	if d.Recurrence != "" {
		f.Rule = recurrence.FromPayload(d.PayloadFields)
	}
	f.CalendarSource = d.CalendarSource
	return f
}

func docFromForm(f classform.Form) classDoc {
	return classDoc{
		ClassName:      f.ClassName,
		Teacher:        f.Teacher,
		Program:        f.Program,
		ZoomLink:       f.ZoomLink,
		MeetingID:      f.MeetingID,
		Passcode:       f.Passcode,
		Start:          f.Start,
		End:            f.End,
		Timezone:       f.Timezone,
		PayloadFields:  f.Rule.Payload(),
		CalendarSource: f.Calendar(),
	}
}

type formResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Form        classDoc `json:"form"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type fieldErrorsResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields"`
}

// decodeClass reads a class body and builds the outbound payload. It
// writes the error response itself and reports whether to go on.
func (s *Server) decodeClass(w http.ResponseWriter, r *http.Request) (model.ClassInfo, bool) {
	var doc classDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return model.ClassInfo{}, false
	}
	info, err := doc.form().Payload()
	if err != nil {
		var verr classform.ValidationError
		if errors.As(err, &verr) {
			resp := fieldErrorsResponse{Error: verr.Error()}
			for _, fe := range verr {
				resp.Fields = append(resp.Fields, fieldError{Field: fe.Field, Message: fe.Message})
			}
			writeJSON(w, http.StatusUnprocessableEntity, resp)
			return model.ClassInfo{}, false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return model.ClassInfo{}, false
	}
	return info, true
}

func (s *Server) requireBackend(w http.ResponseWriter) bool {
	if s.classes == nil {
		writeError(w, http.StatusServiceUnavailable, "no backend configured")
		return false
	}
	return true
}

// writeBackendError maps a backend failure onto a response, passing the
// backend's status and message through when it answered.
func writeBackendError(w http.ResponseWriter, op string, err error) {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	appLog.Error("api "+op+" failed", err)
	writeError(w, http.StatusBadGateway, "backend unavailable")
}

// handleCreateClass validates a class and creates it on the backend.
//
// POST /api/classes
func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackend(w) {
		return
	}
	info, ok := s.decodeClass(w, r)
	if !ok {
		return
	}
	ev, err := s.classes.AddClass(r.Context(), info)
	if err != nil {
		writeBackendError(w, "create class", err)
		return
	}
	appLog.Info("class created", "id", ev.ID, "calendar", info.CalendarSource, "recurrence", info.Recurrence)
	s.refreshAfterWrite()
	writeJSON(w, http.StatusCreated, ev)
}

// handleUpdateClass validates a class and replaces it on the backend.
//
// PUT /api/classes/{id}
func (s *Server) handleUpdateClass(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackend(w) {
		return
	}
	id := r.PathValue("id")
	info, ok := s.decodeClass(w, r)
	if !ok {
		return
	}
	ev, err := s.classes.UpdateClass(r.Context(), id, info)
	if err != nil {
		writeBackendError(w, "update class", err)
		return
	}
	appLog.Info("class updated", "id", id)
	s.refreshAfterWrite()
	writeJSON(w, http.StatusOK, ev)
}

// handleDeleteClass removes a class or part of its series.
//
// DELETE /api/classes/{id}?delete_mode=this|following|all
func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackend(w) {
		return
	}
	id := r.PathValue("id")
	mode, err := model.ParseDeleteMode(r.URL.Query().Get("delete_mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.classes.DeleteClass(r.Context(), id, mode); err != nil {
		writeBackendError(w, "delete class", err)
		return
	}
	appLog.Info("class deleted", "id", id, "mode", mode)
	s.refreshAfterWrite()
	w.WriteHeader(http.StatusNoContent)
}

// handleClassForm pre-fills the editor for an existing class, with the
// recurrence taken from its master for instances.
//
// GET /api/classes/{id}/form
func (s *Server) handleClassForm(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.lookupEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	f := classform.FromEvent(r.Context(), s.resolver, ev)
	writeJSON(w, http.StatusOK, formResponse{
		ID:          ev.ID,
		Title:       f.Title(),
		Description: recurrence.Describe(f.Rule, f.Timezone),
		Form:        docFromForm(f),
	})
}

// handleTimezones lists selectable zones, the built-in list without a
// backend.
func (s *Server) handleTimezones(w http.ResponseWriter, r *http.Request) {
	zones := api.FallbackTimezones
	if s.classes != nil {
		zones = s.classes.Timezones(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"timezones": zones})
}

// handleSuggest forwards a scheduling suggestion request.
//
// GET /api/suggest?teacher=Jane%20Doe&duration_hours=2
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackend(w) {
		return
	}
	q := r.URL.Query()
	hours := parseIntDefault(q.Get("duration_hours"), 1)
	if hours < 1 {
		writeError(w, http.StatusBadRequest, "duration_hours must be at least 1")
		return
	}
	out, err := s.classes.Suggest(r.Context(), q.Get("teacher"), hours)
	if err != nil {
		writeBackendError(w, "suggest", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

type statusResponse struct {
	LoadedAt  time.Time   `json:"loaded_at"`
	LoadError string      `json:"load_error,omitempty"`
	Events    int         `json:"events"`
	Series    int         `json:"series"`
	Backend   *api.Health `json:"backend,omitempty"`
	// BackendError is set when a configured backend does not answer.
	BackendError string `json:"backend_error,omitempty"`
}

// handleStatus reports what the store holds and whether the backend is up.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	loaded, loadErr := s.store.Status()
	resp := statusResponse{
		LoadedAt: loaded,
		Events:   len(s.store.Events()),
		Series:   len(s.store.Series()),
	}
	if loadErr != nil {
		resp.LoadError = loadErr.Error()
	}
	if s.classes != nil {
		h, err := s.classes.Health(r.Context())
		if err != nil {
			resp.BackendError = err.Error()
		} else {
			resp.Backend = &h
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// refreshAfterWrite reloads the store in the background so the day view
// shows a write without waiting for the schedule.
func (s *Server) refreshAfterWrite() {
	if s.refresh == nil {
		return
	}
	go func() {
		if err := s.refresh(context.Background()); err != nil {
			appLog.Error("refresh after write failed", err)
		}
	}()
}
