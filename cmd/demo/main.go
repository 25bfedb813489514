// Command demo runs one MAN Mode goal end to end against in-memory backends
// and narrates each phase to stdout: triage, the RED-lane approval gate, tool
// execution, and completion. It exists to let a newcomer see the pipeline
// work without standing up Temporal, Mongo, or Redis first; `manctl test`
// runs the same pipeline for scripted smoke-testing instead of narration.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"goa.design/clue/log"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/engine/inmem"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy"
	policymemstore "github.com/manorchestra/core/policy/memstore"
	"github.com/manorchestra/core/store/memstore"
)

func main() {
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))
	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	eng := inmem.New()
	tasks := approval.New(memstore.New())
	policySvc := policy.NewService(policymemstore.New())

	acts := &coordinator.Activities{Policy: policySvc, Tasks: tasks}
	if err := acts.RegisterAll(ctx, eng); err != nil {
		return fmt.Errorf("demo: register activities: %w", err)
	}
	if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "delete_record",
		Handler: func(context.Context, any) (any, error) {
			log.Printf(ctx, "tool delete_record executing")
			return map[string]any{"deleted": true}, nil
		},
	}); err != nil {
		return fmt.Errorf("demo: register tool activity: %w", err)
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: coordinator.WorkflowName, Handler: coordinator.Workflow,
	}); err != nil {
		return fmt.Errorf("demo: register workflow: %w", err)
	}

	goal := "remove a stale customer record"
	log.Printf(ctx, "submitting goal %q", goal)

	req := coordinator.GoalRequest{
		TenantID:    "demo",
		WorkflowKey: "demo",
		Goal:        goal,
		Plan: &manmodel.Plan{
			ID: "demo-plan",
			Steps: []manmodel.Step{
				{ID: "s1", Tool: "delete_record", Input: map[string]any{"id": 1}},
			},
		},
	}
	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "demo", Workflow: coordinator.WorkflowName, Input: req})
	if err != nil {
		return fmt.Errorf("demo: start workflow: %w", err)
	}

	log.Printf(ctx, "delete_record is irreversible, waiting for a RED-lane approval task")
	task, err := awaitPendingTask(ctx, tasks, "demo")
	if err != nil {
		return fmt.Errorf("demo: %w", err)
	}
	log.Printf(ctx, "approving task %s as reviewer demo-operator", task.ID)
	if err := handle.Signal(ctx, "submit_man_decision", coordinator.SubmitManDecisionRequest{
		TaskID:  task.ID,
		Payload: manmodel.ManDecisionPayload{Decision: manmodel.DecisionApprove, ReviewerID: "demo-operator"},
	}); err != nil {
		return fmt.Errorf("demo: signal decision: %w", err)
	}

	var out coordinator.Outcome
	if err := handle.Wait(ctx, &out); err != nil {
		return fmt.Errorf("demo: wait: %w", err)
	}

	log.Printf(ctx, "goal finished: phase=%s duration=%dms", out.Phase, out.DurationMS)
	if out.Phase != coordinator.PhaseCompleted {
		return fmt.Errorf("demo: expected phase %s, got %s (%s)", coordinator.PhaseCompleted, out.Phase, out.FailureReason)
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
