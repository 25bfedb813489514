package main

import (
	"context"
	"fmt"
	"net/http"

	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/manorchestra/core/config"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/engine/temporal"
	"github.com/manorchestra/core/httpapi"
	"github.com/manorchestra/core/telemetry"
)

// runAPI serves the Operator HTTP API against a Temporal client. It
// registers the goal workflow definition (required to call StartWorkflow)
// but disables worker auto-start: this process issues and signals
// workflow executions, it never runs one.
func runAPI(ctx context.Context, cfg config.Config) error {
	logger := telemetry.NewClueLogger()

	backends, err := newBackends(ctx, cfg)
	if err != nil {
		return err
	}

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

	srv := &httpapi.Server{
		Engine:    eng,
		Tasks:     backends.Tasks,
		Decisions: backends.Decisions,
		Policies:  backends.Policy,
		Logger:    logger,
	}

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	log.Printf(ctx, "manctl api listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		return fmt.Errorf("manctl: serve http: %w", err)
	}
	return backends.close(ctx)
}
