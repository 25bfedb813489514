// Package coordinator implements the Workflow Coordinator: the Temporal
// (or in-memory) workflow function that drives one goal from receipt to
// terminal state, gating RED-lane steps on human approval and rolling
// back via saga compensations on failure.
package coordinator

import (
	"github.com/manorchestra/core/events"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/saga"
)

// WorkflowName is the logical name the coordinator workflow is registered
// under with an engine.Engine. Callers that start workflows (the HTTP API,
// the submit CLI) and callers that only hold a workflow ID and need to
// signal it share this constant so registration and dispatch never drift.
const WorkflowName = "goal"

// Phase names a node in the coordinator's state machine.
type Phase string

const (
	PhaseGoalReceived  Phase = "GoalReceived"
	PhaseCacheLookup   Phase = "CacheLookup"
	PhasePlanGenerated Phase = "PlanGenerated"
	PhaseLLMPlanning   Phase = "LLMPlanning"
	PhaseExecuting     Phase = "Executing"
	PhaseAwaitingMAN   Phase = "AwaitingMAN"
	PhaseRollingBack   Phase = "RollingBack"
	PhaseCompleted     Phase = "Completed"
	PhaseFailed        Phase = "Failed"
)

// MaxHistorySize is an event-log size limit of 1000 events. No code in
// this module reads it: Workflow does not continue as new, and a run's
// event log grows for the whole run.
const MaxHistorySize = 1000

// ForceManModeScope is the scope argument of the force_man_mode signal.
type ForceManModeScope string

const (
	ForceManModeAll   ForceManModeScope = "ALL"
	ForceManModeSteps ForceManModeScope = "STEPS"
)

// GoalRequest is the coordinator workflow's input.
type GoalRequest struct {
	TenantID    string         `json:"tenant_id"`
	UserID      string         `json:"user_id"`
	WorkflowKey string         `json:"workflow_key"`
	Goal        string         `json:"goal"`
	// Plan, when set, skips CacheLookup/LLMPlanning entirely (used by
	// callers that already resolved a plan, and by tests exercising the
	// execution/MAN-gate/saga machinery in isolation).
	Plan *manmodel.Plan `json:"plan,omitempty"`
}

// PauseSignal is the payload of the pause(reason) signal.
type PauseSignal struct {
	Reason string `json:"reason"`
}

// CancelSignal is the payload of the cancel(reason) signal.
type CancelSignal struct {
	Reason string `json:"reason"`
}

// ForceManModeSignal is the payload of the force_man_mode signal.
type ForceManModeSignal struct {
	Scope   ForceManModeScope `json:"scope"`
	StepIDs []string          `json:"step_ids,omitempty"`
}

// SubmitManDecisionRequest is the payload of the submit_man_decision
// signal. It is delivered as a signal, not as an update, so the sender
// gets no acknowledgement or result back from the workflow.
type SubmitManDecisionRequest struct {
	TaskID  string                     `json:"task_id"`
	Payload manmodel.ManDecisionPayload `json:"payload"`
}

// Outcome is the coordinator workflow's terminal result.
type Outcome struct {
	Phase              Phase                    `json:"phase"`
	FailedStepID       string                   `json:"failed_step_id,omitempty"`
	FailureReason      string                   `json:"failure_reason,omitempty"`
	StepResults        map[string]map[string]any `json:"step_results,omitempty"`
	CompensationResults []saga.CompensationResult `json:"compensation_results,omitempty"`
	DurationMS         int64                    `json:"duration_ms"`
}

// state is the coordinator's mutable run state; snapshot() copies it into
// a Snapshot (goal, user_id, plan_id, plan_steps, step_results,
// saga.compensation_stack, man_mode flags — per spec.md §4.6).
type state struct {
	Request GoalRequest
	Plan    manmodel.Plan

	Paused    bool
	Cancelled bool

	ForceManModeAll   bool
	ForceManModeSteps map[string]bool

	StepResults map[string]map[string]any

	PendingDecisions map[string]manmodel.ManDecisionPayload

	Saga *saga.Context
	Log  *events.Log
}

func newState(req GoalRequest) *state {
	return &state{
		Request:           req,
		ForceManModeSteps: map[string]bool{},
		StepResults:       map[string]map[string]any{},
		PendingDecisions:  map[string]manmodel.ManDecisionPayload{},
		Saga:              saga.NewContext(),
		Log:               &events.Log{},
	}
}

// Snapshot is a restartable copy of state, consumed by ResumeFromSnapshot.
// Workflow itself never takes a snapshot or continues as new.
type Snapshot struct {
	Request           GoalRequest               `json:"request"`
	Plan              manmodel.Plan             `json:"plan"`
	Paused            bool                      `json:"paused"`
	Cancelled         bool                      `json:"cancelled"`
	ForceManModeAll   bool                      `json:"force_man_mode_all"`
	ForceManModeSteps []string                  `json:"force_man_mode_steps"`
	StepResults       map[string]map[string]any `json:"step_results"`
	CompensationStack []saga.CompensationStep   `json:"compensation_stack"`
}

func (s *state) snapshot() Snapshot {
	steps := make([]string, 0, len(s.ForceManModeSteps))
	for id := range s.ForceManModeSteps {
		steps = append(steps, id)
	}
	return Snapshot{
		Request:           s.Request,
		Plan:              s.Plan,
		Paused:            s.Paused,
		Cancelled:         s.Cancelled,
		ForceManModeAll:   s.ForceManModeAll,
		ForceManModeSteps: steps,
		StepResults:       s.StepResults,
		CompensationStack: s.Saga.Stack,
	}
}

func fromSnapshot(snap Snapshot) *state {
	s := newState(snap.Request)
	s.Plan = snap.Plan
	s.Paused = snap.Paused
	s.Cancelled = snap.Cancelled
	s.ForceManModeAll = snap.ForceManModeAll
	for _, id := range snap.ForceManModeSteps {
		s.ForceManModeSteps[id] = true
	}
	if snap.StepResults != nil {
		s.StepResults = snap.StepResults
	}
	s.Saga.Stack = snap.CompensationStack
	return s
}
