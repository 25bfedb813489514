package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/manorchestra/core/config"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/engine/temporal"
	"github.com/manorchestra/core/telemetry"
)

// runSubmit starts a single goal against a running deployment (worker +
// api already up elsewhere) and prints the assigned workflow ID. It does
// not wait for completion: a RED-lane step may block on a human decision
// delivered through the Operator HTTP API, not through this CLI.
func runSubmit(ctx context.Context, cfg config.Config, goal string) error {
	logger := telemetry.NewClueLogger()

	eng, err := temporal.New(temporal.Options{
		ClientOptions:          &client.Options{HostPort: cfg.TemporalHost, Namespace: cfg.TemporalNamespace},
		WorkerOptions:          temporal.WorkerOptions{TaskQueue: cfg.TemporalTaskQueue},
		Logger:                 logger,
		DisableWorkerAutoStart: true,
	})
	if err != nil {
		return fmt.Errorf("manctl: start temporal engine: %w", err)
	}
	defer eng.Close()

	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: coordinator.WorkflowName, TaskQueue: cfg.TemporalTaskQueue, Handler: coordinator.Workflow,
	}); err != nil {
		return fmt.Errorf("manctl: register workflow: %w", err)
	}

	id := "submit-" + uuid.NewString()
	_, err = eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       id,
		Workflow: coordinator.WorkflowName,
		Input: coordinator.GoalRequest{
			TenantID:    "default",
			WorkflowKey: "default",
			Goal:        goal,
		},
	})
	if err != nil {
		return fmt.Errorf("manctl: start workflow: %w", err)
	}

	log.Printf(ctx, "submitted goal %q as workflow %s", goal, id)
	return nil
}
