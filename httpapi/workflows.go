package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/manorchestra/core/coordinator"
)

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeOptionalJSON(r, &body)
	s.signal(w, r, "pause", coordinator.PauseSignal{Reason: body.Reason})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.signal(w, r, "resume", struct{}{})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeOptionalJSON(r, &body)
	s.signal(w, r, "cancel", coordinator.CancelSignal{Reason: body.Reason})
}

func (s *Server) handleForceManMode(w http.ResponseWriter, r *http.Request) {
	var body coordinator.ForceManModeSignal
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Scope != coordinator.ForceManModeAll && body.Scope != coordinator.ForceManModeSteps {
		writeError(w, http.StatusBadRequest, "scope must be ALL or STEPS")
		return
	}
	s.signal(w, r, "force_man_mode", body)
}

func (s *Server) signal(w http.ResponseWriter, r *http.Request, name string, payload any) {
	workflowID := chi.URLParam(r, "workflowID")
	handle, err := s.Engine.GetWorkflowHandle(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err := handle.Signal(r.Context(), name, payload); err != nil {
		s.logError(r, "failed to signal workflow", err)
		writeError(w, http.StatusInternalServerError, "failed to signal workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflowId": workflowID, "signal": name})
}

// decodeOptionalJSON decodes a possibly-empty request body; an empty body
// is not an error since pause/resume/cancel all accept a bare POST.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}
