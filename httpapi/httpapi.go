// Package httpapi implements the Operator HTTP API (spec.md §4.7/§6): a
// thin control-plane surface for submitting goals, listing and deciding
// MAN Mode approval tasks, editing policies, and signaling running
// workflows. Handlers never embed business logic; they decode a request,
// call a collaborator (approval.Repository, policy.Service,
// engine.Engine), and encode the result.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/policy"
	"github.com/manorchestra/core/telemetry"
)

// Server bundles the collaborators the Operator HTTP API delegates to.
// Engine, Tasks, and Policies are required; Decisions is optional (nil
// disables per-decision audit history and decision_events in task reads).
type Server struct {
	Engine    engine.Engine
	Tasks     *approval.Repository
	Decisions *approval.DecisionLog
	Policies  *policy.Service
	Logger    telemetry.Logger

	// WorkflowName is the engine.WorkflowDefinition name new goals are
	// started under. Defaults to coordinator.WorkflowName if empty.
	WorkflowName string
}

// Router builds the chi.Mux exposing every endpoint in spec.md §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/goals", s.handleCreateGoal)

		r.Route("/man/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/{taskID}", s.handleGetTask)
			r.Post("/{taskID}/decision", s.handleSubmitDecision)
		})

		r.Route("/man/policies", func(r chi.Router) {
			r.Get("/", s.handleGetPolicy)
			r.Put("/", s.handlePutPolicy)
		})

		r.Route("/workflows/{workflowID}", func(r chi.Router) {
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/cancel", s.handleCancel)
			r.Post("/force-man-mode", s.handleForceManMode)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logError(r *http.Request, msg string, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.Error(r.Context(), msg, "error", err.Error())
}

func (s *Server) workflowName() string {
	if s.WorkflowName != "" {
		return s.WorkflowName
	}
	return coordinator.WorkflowName
}
