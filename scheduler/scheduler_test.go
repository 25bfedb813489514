package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/manmodel"
)

type fixedFuture struct {
	output map[string]any
	err    error
}

func (f *fixedFuture) Get(_ context.Context, result any) error {
	if dest, ok := result.(*map[string]any); ok {
		*dest = f.output
	}
	return f.err
}

func (f *fixedFuture) IsReady() bool { return true }

func TestExecuteRunsFrontiersInDependencyOrder(t *testing.T) {
	plan := manmodel.Plan{ID: "p1", Steps: []manmodel.Step{
		{ID: "s1", Tool: "book_flight"},
		{ID: "s2", Tool: "send_email", DependsOn: []string{"s1"}},
	}}

	var mu sync.Mutex
	var order []string

	start := func(step manmodel.Step) (engine.Future, error) {
		mu.Lock()
		order = append(order, step.ID)
		mu.Unlock()
		return &fixedFuture{output: map[string]any{"booking_id": "BK-9"}}, nil
	}

	result, err := Execute(context.Background(), plan, start)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.FailedStepID != "" {
		t.Fatalf("expected no failure, got %q", result.FailedStepID)
	}
	if len(order) != 2 || order[0] != "s1" || order[1] != "s2" {
		t.Fatalf("expected s1 before s2, got %v", order)
	}
}

func TestExecutePropagatesFirstFailureAndDrainsFrontier(t *testing.T) {
	plan := manmodel.Plan{ID: "p1", Steps: []manmodel.Step{
		{ID: "a", Tool: "toolA"},
		{ID: "b", Tool: "toolB"},
	}}

	var mu sync.Mutex
	completed := map[string]bool{}

	start := func(step manmodel.Step) (engine.Future, error) {
		if step.ID == "a" {
			return &fixedFuture{err: errors.New("boom")}, nil
		}
		mu.Lock()
		completed["b"] = true
		mu.Unlock()
		return &fixedFuture{output: map[string]any{}}, nil
	}

	result, err := Execute(context.Background(), plan, start)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.FailedStepID != "a" {
		t.Fatalf("expected failed step 'a', got %q", result.FailedStepID)
	}
	if !completed["b"] {
		t.Fatalf("expected frontier sibling 'b' to still be awaited to completion")
	}
}

func TestExecuteDetectsMissingDependency(t *testing.T) {
	plan := manmodel.Plan{ID: "p1", Steps: []manmodel.Step{
		{ID: "s1", Tool: "toolA", DependsOn: []string{"missing"}},
	}}

	start := func(step manmodel.Step) (engine.Future, error) {
		return &fixedFuture{output: map[string]any{}}, nil
	}

	_, err := Execute(context.Background(), plan, start)
	var dagErr *DAGError
	if !errors.As(err, &dagErr) {
		t.Fatalf("expected DAGError, got %v", err)
	}
}

func TestValidatePlanRejectsMalformedPlan(t *testing.T) {
	_, err := ValidatePlan([]byte(`{"id": "p1", "steps": []}`))
	var schemaErr *PlanSchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected PlanSchemaError for empty steps, got %v", err)
	}
}

func TestValidatePlanAcceptsWellFormedPlan(t *testing.T) {
	raw := []byte(`{
		"id": "p1",
		"steps": [
			{"id": "s1", "tool": "delete_record", "input": {"id": 42}, "compensation": "undo_delete"}
		]
	}`)
	plan, err := ValidatePlan(raw)
	if err != nil {
		t.Fatalf("validate plan: %v", err)
	}
	if plan.ID != "p1" || len(plan.Steps) != 1 {
		t.Fatalf("unexpected decoded plan: %+v", plan)
	}
}
