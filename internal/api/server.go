// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/driprun/driprun/internal/engine"
	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/internal/validation"
	"github.com/driprun/driprun/pkg/schema"
)

// Deps holds everything the server needs.
type Deps struct {
	Store     store.Store
	Scanner   *engine.Scanner
	Executor  *engine.Executor
	Validator *validation.AutomationValidator
	Logger    *slog.Logger
}

// Server is the engine's HTTP surface.
type Server struct {
	deps Deps
	http *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/scan", s.handleScan)
	mux.HandleFunc("POST /v1/process", s.handleProcess)
	mux.HandleFunc("POST /v1/trigger", s.handleTrigger)
	mux.HandleFunc("POST /v1/events", s.handleAppendEvent)

	mux.HandleFunc("POST /v1/automations", s.handleCreateAutomation)
	mux.HandleFunc("GET /v1/automations", s.handleListAutomations)
	mux.HandleFunc("GET /v1/automations/{id}", s.handleGetAutomation)
	mux.HandleFunc("DELETE /v1/automations/{id}", s.handleDeleteAutomation)
	mux.HandleFunc("POST /v1/automations/{id}/activate", s.handleActivateAutomation)
	mux.HandleFunc("POST /v1/automations/{id}/pause", s.handlePauseAutomation)

	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)

	mux.HandleFunc("GET /v1/contacts/{id}", s.handleGetContact)
	mux.HandleFunc("PUT /v1/contacts/{id}", s.handlePutContact)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving requests until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.deps.Logger.Info("api server listening", slog.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps the error code to an HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	var ee *schema.EngineError
	if !asEngineError(err, &ee) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch ee.Code {
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeDefinition:
		status = http.StatusBadRequest
	case schema.ErrCodeConflict:
		status = http.StatusConflict
	case schema.ErrCodeTimeout:
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{"error": ee.Message, "code": ee.Code}
	if ee.StepID != "" {
		body["step_id"] = ee.StepID
	}
	if len(ee.Details) > 0 {
		body["details"] = ee.Details
	}
	writeJSON(w, status, body)
}
