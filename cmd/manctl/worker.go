package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/manorchestra/core/config"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/engine/temporal"
	"github.com/manorchestra/core/telemetry"
)

// runWorker hosts the goal workflow and the coordinator's own activities
// (LoadPolicy, CreateManTask, ResolveManTask, CountPending, GeneratePlan) on
// a Temporal worker. Tool activities (send_email, delete_record, etc.) are
// registered by whichever process owns them; this worker never implements
// tool logic itself.
func runWorker(ctx context.Context, cfg config.Config) error {
	logger := telemetry.NewClueLogger()

	backends, err := newBackends(ctx, cfg)
	if err != nil {
		return err
	}
	planCache, closeCache, err := newPlanCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()
	llmPlanner, err := newPlanner(cfg)
	if err != nil {
		return err
	}

	eng, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{HostPort: cfg.TemporalHost, Namespace: cfg.TemporalNamespace},
		WorkerOptions: temporal.WorkerOptions{TaskQueue: cfg.TemporalTaskQueue},
		Logger:        logger,
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

	acts := &coordinator.Activities{
		Policy:    backends.Policy,
		Tasks:     backends.Tasks,
		Notifier:  newNotifier(logger),
		Planner:   llmPlanner,
		PlanCache: planCache,
	}
	if err := acts.RegisterAll(ctx, eng); err != nil {
		return fmt.Errorf("manctl: register activities: %w", err)
	}

	log.Printf(ctx, "manctl worker started (queue=%s)", cfg.TemporalTaskQueue)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf(ctx, "manctl worker shutting down")
	return backends.close(ctx)
}
