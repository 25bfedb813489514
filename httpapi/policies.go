package httpapi

import (
	"net/http"

	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy"
)

type listPoliciesResponse struct {
	Policies []manmodel.ManPolicy `json:"policies"`
}

// handleGetPolicy resolves the effective policy for (tenant_id,
// workflow_key) via the same 3-tier fallback used by the workflow
// coordinator. policy.Service exposes no List method — there is exactly
// one effective policy per (tenant, workflow) pair, so the response
// wraps it in a single-element array to match spec.md §6's documented
// {policies[]} shape.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := s.Policies.Load(r.Context(), q.Get("tenant_id"), q.Get("workflow_key"))
	writeJSON(w, http.StatusOK, listPoliciesResponse{Policies: []manmodel.ManPolicy{p}})
}

type putPolicyResponse struct {
	Policy manmodel.ManPolicy `json:"policy"`
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, workflowKey, updatedBy := q.Get("tenant_id"), q.Get("workflow_key"), q.Get("updated_by")
	if updatedBy == "" {
		writeError(w, http.StatusBadRequest, "updated_by is required")
		return
	}

	var p manmodel.ManPolicy
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := policy.Key{Tenant: tenantID, Workflow: workflowKey}
	if err := s.Policies.Upsert(r.Context(), key, p); err != nil {
		s.logError(r, "failed to upsert man policy", err)
		writeError(w, http.StatusInternalServerError, "failed to upsert policy")
		return
	}
	if s.Logger != nil {
		s.Logger.Info(r.Context(), "man policy updated", "tenant_id", tenantID, "workflow_key", workflowKey, "updated_by", updatedBy)
	}
	writeJSON(w, http.StatusOK, putPolicyResponse{Policy: p})
}
