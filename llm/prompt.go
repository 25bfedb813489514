// Package llm holds the prompt-construction and response-parsing logic
// shared by the thin default planner.Planner backends (llm/anthropic,
// llm/bedrock, llm/openai). Each backend owns only its provider's wire
// call; everything about what to ask for and how to validate the answer
// lives here so the three stay consistent.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/planner"
	"github.com/manorchestra/core/scheduler"
)

// SystemPrompt is the instruction every provider backend sends as the
// system message. It fixes the JSON plan schema the model must emit.
const SystemPrompt = `You are the planning component of an agent orchestration system.
Given a goal and a catalog of available tools, respond with ONLY a JSON object
describing a plan: a directed acyclic graph of tool invocations.

The JSON object must have this shape:
{
  "id": "<short unique plan id>",
  "steps": [
    {
      "id": "<unique step id>",
      "name": "<optional human-readable label>",
      "tool": "<tool name, must be one of the available tools>",
      "input": { ... tool input parameters ... },
      "depends_on": ["<ids of steps that must complete first>"],
      "compensation": "<optional tool name to call to undo this step>",
      "compensation_input": { ... compensation parameters, may reference
        a prior step's output with the literal string "{result.FIELD}" ... }
    }
  ]
}

Use only tools from the supplied catalog. Prefer the smallest plan that
accomplishes the goal. Mark any step whose effect is hard to undo (deletes,
sends, payments, external side effects) with a "compensation" tool when the
catalog offers one. Respond with the JSON object and nothing else: no
markdown fences, no prose before or after it.`

// UserPrompt renders req into the user-turn content sent to the provider.
func UserPrompt(req planner.Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", req.Goal)
	if req.TenantID != "" {
		fmt.Fprintf(&sb, "Tenant: %s\n", req.TenantID)
	}
	if req.WorkflowKey != "" {
		fmt.Fprintf(&sb, "Workflow: %s\n", req.WorkflowKey)
	}
	sb.WriteString("\nAvailable tools:\n")
	if len(req.AvailableTools) == 0 {
		sb.WriteString("(none supplied)\n")
	}
	for _, t := range req.AvailableTools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		if len(t.InputSchema) > 0 {
			if raw, err := json.Marshal(t.InputSchema); err == nil {
				fmt.Fprintf(&sb, "  input_schema: %s\n", raw)
			}
		}
	}
	return sb.String()
}

// ParsePlan extracts a JSON plan object from a raw model completion and
// validates it against the plan schema. Models occasionally wrap the
// object in a markdown code fence despite instructions; stripFences
// tolerates that before validation.
func ParsePlan(completion string) (manmodel.Plan, error) {
	raw := stripFences(completion)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return manmodel.Plan{}, fmt.Errorf("llm: response did not contain a JSON object: %q", completion)
	}
	plan, err := scheduler.ValidatePlan([]byte(raw[start : end+1]))
	if err != nil {
		return manmodel.Plan{}, fmt.Errorf("llm: %w", err)
	}
	return plan, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
