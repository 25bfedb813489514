package llm

import (
	"strings"
	"testing"

	"github.com/manorchestra/core/planner"
)

func TestUserPromptIncludesToolsAndGoal(t *testing.T) {
	req := planner.Request{
		Goal:        "clean up stale records",
		TenantID:    "t1",
		WorkflowKey: "wf1",
		AvailableTools: []planner.ToolSpec{
			{Name: "delete_record", Description: "deletes a record by id"},
		},
	}
	out := UserPrompt(req)
	if !strings.Contains(out, "clean up stale records") {
		t.Fatalf("prompt missing goal: %q", out)
	}
	if !strings.Contains(out, "delete_record") {
		t.Fatalf("prompt missing tool: %q", out)
	}
}

func TestParsePlanAcceptsFencedJSON(t *testing.T) {
	raw := "```json\n{\"id\":\"p1\",\"steps\":[{\"id\":\"s1\",\"tool\":\"send_email\",\"input\":{}}]}\n```"
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.ID != "p1" || len(plan.Steps) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestParsePlanRejectsNonJSON(t *testing.T) {
	if _, err := ParsePlan("sorry, I can't help with that"); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestParsePlanRejectsSchemaViolation(t *testing.T) {
	if _, err := ParsePlan(`{"id":"p1","steps":[]}`); err == nil {
		t.Fatal("expected schema validation error for empty steps")
	}
}
