package main

import (
	"context"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/config"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/engine/inmem"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy"
	policymemstore "github.com/manorchestra/core/policy/memstore"
	"github.com/manorchestra/core/store/memstore"
)

// runTest exercises the full goal pipeline — triage, a RED-lane approval
// gate, tool invocation, and completion — against the in-memory engine and
// stores, so the whole system can be smoke-tested without Temporal, Mongo,
// Redis, or a configured LLM. It auto-approves the task it expects to open
// rather than waiting on operator input.
func runTest(ctx context.Context, cfg config.Config) error {
	eng := inmem.New()
	tasks := approval.New(memstore.New())
	policySvc := policy.NewService(policymemstore.New())

	acts := &coordinator.Activities{Policy: policySvc, Tasks: tasks}
	if err := acts.RegisterAll(ctx, eng); err != nil {
		return fmt.Errorf("manctl test: register activities: %w", err)
	}
	if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "delete_record",
		Handler: func(context.Context, any) (any, error) {
			return map[string]any{"deleted": true}, nil
		},
	}); err != nil {
		return fmt.Errorf("manctl test: register tool activity: %w", err)
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: coordinator.WorkflowName, Handler: coordinator.Workflow,
	}); err != nil {
		return fmt.Errorf("manctl test: register workflow: %w", err)
	}

	req := coordinator.GoalRequest{
		TenantID:    "smoke",
		WorkflowKey: "smoke",
		Goal:        "remove a stale record",
		Plan: &manmodel.Plan{
			ID: "smoke-plan",
			Steps: []manmodel.Step{
				{ID: "s1", Tool: "delete_record", Input: map[string]any{"id": 1}},
			},
		},
	}
	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "smoke-test", Workflow: coordinator.WorkflowName, Input: req})
	if err != nil {
		return fmt.Errorf("manctl test: start workflow: %w", err)
	}

	task, err := awaitPendingTask(ctx, tasks, "smoke")
	if err != nil {
		return fmt.Errorf("manctl test: %w", err)
	}
	log.Printf(ctx, "auto-approving task %s", task.ID)
	if err := handle.Signal(ctx, "submit_man_decision", coordinator.SubmitManDecisionRequest{
		TaskID:  task.ID,
		Payload: manmodel.ManDecisionPayload{Decision: manmodel.DecisionApprove, ReviewerID: "manctl-test"},
	}); err != nil {
		return fmt.Errorf("manctl test: signal decision: %w", err)
	}

	var out coordinator.Outcome
	if err := handle.Wait(ctx, &out); err != nil {
		return fmt.Errorf("manctl test: wait: %w", err)
	}

	log.Printf(ctx, "goal finished: phase=%s duration=%dms", out.Phase, out.DurationMS)
	if out.Phase != coordinator.PhaseCompleted {
		return fmt.Errorf("manctl test: expected phase %s, got %s (%s)", coordinator.PhaseCompleted, out.Phase, out.FailureReason)
	}
	return nil
}

func awaitPendingTask(ctx context.Context, tasks *approval.Repository, tenantID string) (manmodel.ManTask, error) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		found, err := tasks.List(ctx, approval.ListFilters{TenantID: tenantID, Status: manmodel.TaskPending}, 0, 0)
		if err != nil {
			return manmodel.ManTask{}, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return manmodel.ManTask{}, fmt.Errorf("no pending task appeared for tenant %q", tenantID)
}
