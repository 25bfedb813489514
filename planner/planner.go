// Package planner defines the narrow interface the Workflow Coordinator
// needs from whatever turns a goal into a Plan during the LLMPlanning
// state. Plan authoring itself is out of scope; this package only fixes
// the boundary so default backends (llm/anthropic, llm/bedrock,
// llm/openai) and any externally hosted planning service are
// interchangeable.
package planner

import (
	"context"

	"github.com/manorchestra/core/manmodel"
)

// ToolSpec describes one tool the planner may reference in a Plan step.
// Callers (typically the Operator HTTP API or the submit CLI) supply the
// catalog of tools available to a given tenant/workflow.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Request is the input to a planning call.
type Request struct {
	Goal           string     `json:"goal"`
	TenantID       string     `json:"tenant_id"`
	WorkflowKey    string     `json:"workflow_key"`
	AvailableTools []ToolSpec `json:"available_tools,omitempty"`
}

// Planner turns a goal into a validated, schedulable Plan.
type Planner interface {
	Plan(ctx context.Context, req Request) (manmodel.Plan, error)
}
