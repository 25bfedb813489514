// Package scheduler implements DAG topological-frontier execution over a
// Plan: Kahn's algorithm computes successive frontiers of steps whose
// dependencies have all completed, each frontier's steps are started
// concurrently, and the first failure observed is retained while the rest
// of the frontier drains before the failure is surfaced.
package scheduler

import (
	"context"
	"fmt"

	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/manmodel"
)

// DAGError reports a structural problem with a Plan's dependency graph: a
// cycle, or a depends_on reference to a step that never executes.
type DAGError struct {
	Message string
}

func (e *DAGError) Error() string { return "DAGCycleOrMissingDependency: " + e.Message }

// StepStarter schedules one step's activity without blocking on its
// result, returning a Future the scheduler waits on. Coordinators supply
// an implementation backed by engine.WorkflowContext.ExecuteActivityAsync,
// so frontier concurrency is expressed entirely through the engine's
// Future abstraction rather than raw goroutines (replay-safe on Temporal).
type StepStarter func(step manmodel.Step) (engine.Future, error)

// StepOutcome is the result of running one step to completion.
type StepOutcome struct {
	StepID string
	Output map[string]any
	Err    error
}

// Result is the outcome of running an entire plan.
type Result struct {
	// Outcomes holds every step's outcome, including steps in the frontier
	// that ran after the first failure (their results are discarded by
	// callers but recorded here for observability).
	Outcomes map[string]StepOutcome
	// FailedStepID is the first step (in frontier order) to fail, or "" if
	// every step succeeded.
	FailedStepID string
}

// Execute runs plan to completion (or first failure) via topological
// frontier execution, invoking start for every step whose dependencies
// have all completed.
func Execute(ctx context.Context, plan manmodel.Plan, start StepStarter) (Result, error) {
	inDegree := make(map[string]int, len(plan.Steps))
	dependents := make(map[string][]string, len(plan.Steps))
	steps := make(map[string]manmodel.Step, len(plan.Steps))

	for _, step := range plan.Steps {
		steps[step.ID] = step
		inDegree[step.ID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var frontier []string
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	outcomes := make(map[string]StepOutcome, len(plan.Steps))
	executed := make(map[string]bool, len(plan.Steps))
	var failedStepID string

	for len(frontier) > 0 {
		futures := make(map[string]engine.Future, len(frontier))
		for _, id := range frontier {
			fut, err := start(steps[id])
			if err != nil {
				// Scheduling itself failed (e.g. engine rejected the
				// request); treat as that step's failure and still drain
				// the rest of the frontier's futures below.
				if failedStepID == "" {
					failedStepID = id
				}
				outcomes[id] = StepOutcome{StepID: id, Err: err}
				executed[id] = true
				continue
			}
			futures[id] = fut
		}

		var next []string
		for _, id := range frontier {
			fut, ok := futures[id]
			if !ok {
				continue // scheduling failure already recorded above
			}
			var output map[string]any
			err := fut.Get(ctx, &output)
			outcomes[id] = StepOutcome{StepID: id, Output: output, Err: err}
			executed[id] = true
			if err != nil && failedStepID == "" {
				failedStepID = id
			}
		}

		for _, id := range frontier {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 && !executed[dep] {
					next = append(next, dep)
				}
			}
		}
		frontier = next

		if failedStepID != "" {
			break
		}
	}

	if failedStepID == "" && len(executed) != len(plan.Steps) {
		return Result{Outcomes: outcomes}, &DAGError{Message: fmt.Sprintf("executed %d of %d steps", len(executed), len(plan.Steps))}
	}

	return Result{Outcomes: outcomes, FailedStepID: failedStepID}, nil
}
