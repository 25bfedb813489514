package httpapi

import (
	"net/http"

	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
)

// createGoalRequest is the body of POST /api/v1/goals. TenantID and
// WorkflowKey extend spec.md §6's documented {user_id, user_intent,
// trace_id} shape: the core is explicitly multi-tenant and policy lookup
// is keyed on (tenant, workflow), but the spec's Non-goals exclude
// authentication, so there is no token to derive a tenant from — the
// caller must supply one.
type createGoalRequest struct {
	UserID      string `json:"user_id"`
	UserIntent  string `json:"user_intent"`
	TraceID     string `json:"trace_id"`
	TenantID    string `json:"tenant_id"`
	WorkflowKey string `json:"workflow_key,omitempty"`
}

type createGoalResponse struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req createGoalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.UserIntent == "" || req.TraceID == "" || req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "user_id, user_intent, trace_id, and tenant_id are required")
		return
	}

	_, err := s.Engine.StartWorkflow(r.Context(), engine.WorkflowStartRequest{
		ID:       req.TraceID,
		Workflow: s.workflowName(),
		Input: coordinator.GoalRequest{
			TenantID:    req.TenantID,
			UserID:      req.UserID,
			WorkflowKey: req.WorkflowKey,
			Goal:        req.UserIntent,
		},
	})
	if err != nil {
		s.logError(r, "failed to start goal workflow", err)
		writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}

	writeJSON(w, http.StatusAccepted, createGoalResponse{WorkflowID: req.TraceID, Status: "STARTED"})
}
