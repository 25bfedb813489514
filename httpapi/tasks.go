package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/store"
)

type listTasksResponse struct {
	Tasks  []manmodel.ManTask `json:"tasks"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intQuery(q, "limit", 50)
	offset := intQuery(q, "offset", 0)
	filters := approval.ListFilters{
		TenantID:   q.Get("tenant_id"),
		WorkflowID: q.Get("workflow_id"),
		Status:     manmodel.ManTaskStatus(q.Get("status")),
	}

	tasks, err := s.Tasks.List(r.Context(), filters, limit, offset)
	if err != nil {
		s.logError(r, "failed to list man tasks", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	total, err := s.Tasks.CountPending(r.Context(), filters.TenantID)
	if err != nil {
		total = len(tasks)
	}
	writeJSON(w, http.StatusOK, listTasksResponse{Tasks: tasks, Total: total, Offset: offset, Limit: limit})
}

type getTaskResponse struct {
	manmodel.ManTask
	DecisionEvents []manmodel.DecisionEvent `json:"decision_events,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.Tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	resp := getTaskResponse{ManTask: task}
	if s.Decisions != nil {
		if events, err := s.Decisions.List(r.Context(), taskID); err == nil {
			resp.DecisionEvents = events
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var payload manmodel.ManDecisionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Decision == "" || payload.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "decision and reviewer_id are required")
		return
	}

	task, err := s.Tasks.Resolve(r.Context(), taskID, payload)
	if err != nil && !errors.Is(err, approval.ErrAlreadyResolved) {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logError(r, "failed to resolve man task", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve task")
		return
	}
	if s.Decisions != nil {
		if _, err := s.Decisions.Record(r.Context(), taskID, payload); err != nil {
			s.logError(r, "failed to record decision audit event", err)
		}
	}

	// Signal the running workflow so a blocked AwaitingMAN step observes
	// the decision. Best-effort: the decision is already durably recorded
	// above, so a signal failure (workflow already gone, engine blip)
	// degrades to the operator re-submitting rather than losing the
	// decision entirely.
	if handle, err := s.Engine.GetWorkflowHandle(r.Context(), task.WorkflowID); err == nil {
		if err := handle.Signal(r.Context(), "submit_man_decision", coordinator.SubmitManDecisionRequest{
			TaskID:  taskID,
			Payload: payload,
		}); err != nil {
			s.logError(r, "failed to signal workflow with decision", err)
			writeJSON(w, http.StatusAccepted, task)
			return
		}
	}

	writeJSON(w, http.StatusOK, task)
}

func intQuery(q interface{ Get(string) string }, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
