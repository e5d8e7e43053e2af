package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/justinas/alice"

	"schedadmin/internal/config"
	"schedadmin/internal/conflict"
	"schedadmin/internal/layout"
	appLog "schedadmin/internal/log"
	"schedadmin/internal/recurrence"
	"schedadmin/internal/store"
)

// ConflictChecker answers teacher conflict checks. *api.Client implements it.
type ConflictChecker interface {
	CheckConflict(ctx context.Context, req conflict.Request) (conflict.Result, error)
}

// Options wires a Server. Store and Config are required.
type Options struct {
	Config *config.Config
	Store  *store.Store
	// Remote fetches events missing from the store. Optional.
	Remote recurrence.Lookup
	// Conflicts defaults to a local check over the store.
	Conflicts ConflictChecker
	// Refresh reloads the store on POST /api/refresh and after writes.
	// Optional.
	Refresh func(ctx context.Context) error
	// Classes handles create, update and delete. Without it those routes
	// answer 503.
	Classes ClassBackend
}

// Server exposes the day layout, recurrence decoding, conflict checks and
// class editing over HTTP, plus a rendered day view.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	remote    recurrence.Lookup
	resolver  *recurrence.Resolver
	conflicts ConflictChecker
	refresh   func(ctx context.Context) error
	classes   ClassBackend
	engine    layout.Engine
	loc       *time.Location
	mux       *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	mode, _ := layout.ParseMode(opts.Config.LayoutMode)
	s := &Server{
		cfg:       opts.Config,
		store:     opts.Store,
		remote:    opts.Remote,
		resolver:  recurrence.NewResolver(opts.Store, opts.Remote),
		conflicts: opts.Conflicts,
		refresh:   opts.Refresh,
		classes:   opts.Classes,
		engine:    layout.Engine{Mode: mode},
		loc:       opts.Config.Location(),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's routes wrapped in its middleware chain.
func (s *Server) Handler() http.Handler {
	chain := alice.New(s.recoverer, s.requestLogger)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		chain = chain.Append(s.basicAuthMiddleware)
	}
	return chain.Then(s.mux)
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/day", s.handleDay)
	s.mux.HandleFunc("GET /api/rule", s.handleRule)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/timezones", s.handleTimezones)
	s.mux.HandleFunc("GET /api/suggest", s.handleSuggest)
	s.mux.HandleFunc("POST /api/classes", s.handleCreateClass)
	s.mux.HandleFunc("PUT /api/classes/{id}", s.handleUpdateClass)
	s.mux.HandleFunc("DELETE /api/classes/{id}", s.handleDeleteClass)
	s.mux.HandleFunc("GET /api/classes/{id}/form", s.handleClassForm)
	s.mux.HandleFunc("GET /api/classes/{id}/recurrence", s.handleRecurrence)
	s.mux.HandleFunc("POST /api/conflict", s.handleConflict)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /day", s.handleDayView)
	s.mux.HandleFunc("GET /day.ics", s.handleDayICS)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedadmin", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(start).String(),
			"request_id", id,
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				appLog.Error("http handler panic", fmt.Errorf("%v", v), "path", r.URL.Path, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
