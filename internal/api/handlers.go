package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/internal/validation"
	"github.com/driprun/driprun/pkg/schema"
)

func asEngineError(err error, target **schema.EngineError) bool {
	return errors.As(err, target)
}

// workspaceID resolves the workspace from the query string, defaulting to
// "default" for single-tenant deployments.
func workspaceID(r *http.Request) string {
	if ws := r.URL.Query().Get("workspace_id"); ws != "" {
		return ws
	}
	return "default"
}

// --- engine operations ---

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID string `json:"workspace_id"`
		Limit       int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	result, err := s.deps.Scanner.Scan(r.Context(), body.WorkspaceID, body.Limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID string `json:"workspace_id"`
		BatchSize   int    `json:"batch_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	result, err := s.deps.Executor.Process(r.Context(), body.WorkspaceID, body.BatchSize)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID  string `json:"workspace_id"`
		AutomationID string `json:"automation_id"`
		ContactID    string `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkspaceID == "" || body.AutomationID == "" || body.ContactID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id, automation_id and contact_id are required")
		return
	}

	runID, stepID, err := s.deps.Scanner.Trigger(r.Context(), body.WorkspaceID, body.AutomationID, body.ContactID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"run_id":  runID,
		"step_id": stepID,
	})
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID string          `json:"workspace_id"`
		ContactID   string          `json:"contact_id"`
		Type        string          `json:"type"`
		Meta        json.RawMessage `json:"meta"`
		OccurredAt  *time.Time      `json:"occurred_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkspaceID == "" || body.ContactID == "" || body.Type == "" {
		writeError(w, http.StatusBadRequest, "workspace_id, contact_id and type are required")
		return
	}

	event := &store.ContactEvent{
		ID:          uuid.NewString(),
		WorkspaceID: body.WorkspaceID,
		ContactID:   body.ContactID,
		Type:        body.Type,
		Meta:        body.Meta,
	}
	if body.OccurredAt != nil {
		event.OccurredAt = body.OccurredAt.UTC()
	}
	if err := s.deps.Store.AppendEvent(r.Context(), event); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// --- automations ---

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	if err := s.deps.Validator.Validate(raw); err != nil {
		writeEngineError(w, err)
		return
	}

	var body struct {
		Name       string          `json:"name"`
		Status     string          `json:"status"`
		Definition json.RawMessage `json:"definition"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	def, report, err := validation.DecodeDefinition(body.Definition)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := schema.AutomationStatusPaused
	if body.Status != "" {
		status = schema.AutomationStatus(body.Status)
	}

	automation := &store.Automation{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID(r),
		Name:        body.Name,
		Status:      status,
		Definition:  def,
	}
	if err := s.deps.Store.CreateAutomation(r.Context(), automation); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"automation": automation,
		"warnings":   report.Warnings,
	})
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	automations, err := s.deps.Store.ListAutomations(r.Context(), workspaceID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"automations": automations})
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	automation, err := s.deps.Store.GetAutomation(r.Context(), workspaceID(r), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, automation)
}

// handleDeleteAutomation cancels the automation's running runs, then removes
// the automation. Queue items for the cancelled runs drain lazily: the worker
// drops them at claim time.
func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	ws, id := workspaceID(r), r.PathValue("id")
	if _, err := s.deps.Store.GetAutomation(r.Context(), ws, id); err != nil {
		writeEngineError(w, err)
		return
	}
	cancelled, err := s.deps.Store.CancelRunsForAutomation(r.Context(), ws, id, "automation deleted")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.deps.Store.DeleteAutomation(r.Context(), ws, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"automation_id":  id,
		"runs_cancelled": cancelled,
	})
}

func (s *Server) handleActivateAutomation(w http.ResponseWriter, r *http.Request) {
	s.setAutomationStatus(w, r, schema.AutomationStatusRunning)
}

func (s *Server) handlePauseAutomation(w http.ResponseWriter, r *http.Request) {
	s.setAutomationStatus(w, r, schema.AutomationStatusPaused)
}

func (s *Server) setAutomationStatus(w http.ResponseWriter, r *http.Request, status schema.AutomationStatus) {
	id := r.PathValue("id")
	if err := s.deps.Store.SetAutomationStatus(r.Context(), workspaceID(r), id, status); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"automation_id": id,
		"status":        string(status),
	})
}

// --- runs ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := s.deps.Store.ListRuns(r.Context(), store.RunFilter{
		WorkspaceID:  workspaceID(r),
		AutomationID: q.Get("automation_id"),
		Status:       schema.RunStatus(q.Get("status")),
		Limit:        100,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ws := workspaceID(r)
	run, err := s.deps.Store.GetRun(r.Context(), ws, r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	items, err := s.deps.Store.QueueItemsForRun(r.Context(), ws, run.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":         run,
		"queue_items": items,
	})
}

// --- contacts ---

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	contact, err := s.deps.Store.GetContact(r.Context(), workspaceID(r), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (s *Server) handlePutContact(w http.ResponseWriter, r *http.Request) {
	var contact store.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	contact.ID = r.PathValue("id")
	contact.WorkspaceID = workspaceID(r)
	if contact.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := s.deps.Store.UpsertContact(r.Context(), &contact); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &contact)
}
