package coordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/plancache"
	"github.com/manorchestra/core/planner"
	"github.com/manorchestra/core/policy"
)

// decodeInput round-trips input (which may already be a T, or a
// map[string]any produced by a wire-level JSON decode, depending on the
// engine backend) into a concrete T.
func decodeInput[T any](input any) (T, error) {
	var out T
	if typed, ok := input.(T); ok {
		return typed, nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}

func typedActivity[In, Out any](fn func(context.Context, In) (Out, error)) engine.ActivityFunc {
	return func(ctx context.Context, input any) (any, error) {
		in, err := decodeInput[In](input)
		if err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

// RegisterAll registers every coordinator activity with the engine.
func (a *Activities) RegisterAll(ctx context.Context, eng engine.Engine) error {
	defs := []engine.ActivityDefinition{
		{Name: ActivityLoadPolicy, Handler: typedActivity(a.LoadPolicy)},
		{Name: ActivityCreateManTask, Handler: typedActivity(a.CreateManTask)},
		{Name: ActivityResolveManTask, Handler: typedActivity(a.ResolveManTask)},
		{Name: ActivityCountPending, Handler: typedActivity(a.CountPending)},
		{Name: ActivityGeneratePlan, Handler: typedActivity(a.GeneratePlan)},
	}
	for _, def := range defs {
		if err := eng.RegisterActivity(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// Activity names registered with the engine. Workflow code only ever calls
// these by name via engine.ActivityRequest, keeping all I/O (policy store,
// approval repository, notification dispatch) on the activity side of the
// determinism boundary.
const (
	ActivityLoadPolicy     = "manorchestra.LoadPolicy"
	ActivityCreateManTask  = "manorchestra.CreateManTask"
	ActivityResolveManTask = "manorchestra.ResolveManTask"
	ActivityCountPending   = "manorchestra.CountPending"
	ActivityGeneratePlan   = "manorchestra.GeneratePlan"
)

// Notifier dispatches a notification about a newly opened ManTask (or other
// operator-facing event). Implemented by the notify package.
type Notifier interface {
	NotifyManTaskOpened(ctx context.Context, task manmodel.ManTask) error
}

// Activities bundles the handler functions registered under the constants
// above. Constructed once at process startup and wired to the engine via
// RegisterActivity.
type Activities struct {
	Policy   *policy.Service
	Tasks    *approval.Repository
	Notifier Notifier

	// Planner and PlanCache back the GeneratePlan activity (CacheLookup/
	// LLMPlanning phases). Both are optional: a nil PlanCache disables
	// caching, a nil Planner means every goal must arrive with an
	// explicit GoalRequest.Plan (used by tests exercising execution in
	// isolation).
	Planner        planner.Planner
	PlanCache      plancache.Cache
	AvailableTools []planner.ToolSpec
}

// LoadPolicyInput/Output wrap policy.Service.Load for the activity boundary.
type LoadPolicyInput struct {
	TenantID    string `json:"tenant_id"`
	WorkflowKey string `json:"workflow_key"`
}

func (a *Activities) LoadPolicy(ctx context.Context, in LoadPolicyInput) (manmodel.ManPolicy, error) {
	return a.Policy.Load(ctx, in.TenantID, in.WorkflowKey), nil
}

// CreateManTaskInput/Output wrap approval.Repository.Create.
type CreateManTaskInput struct {
	Intent manmodel.ActionIntent      `json:"intent"`
	Triage manmodel.RiskTriageResult `json:"triage"`
}

func (a *Activities) CreateManTask(ctx context.Context, in CreateManTaskInput) (manmodel.ManTask, error) {
	task, err := a.Tasks.Create(ctx, in.Intent, in.Triage)
	if err != nil {
		return manmodel.ManTask{}, err
	}
	if a.Notifier != nil {
		_ = a.Notifier.NotifyManTaskOpened(ctx, task)
	}
	return task, nil
}

// ResolveManTaskInput wraps approval.Repository.Resolve, used by the
// activity that persists a decision delivered via the submit_man_decision
// update so replicas converge.
type ResolveManTaskInput struct {
	TaskID   string                      `json:"task_id"`
	Decision manmodel.ManDecisionPayload `json:"decision"`
}

func (a *Activities) ResolveManTask(ctx context.Context, in ResolveManTaskInput) (manmodel.ManTask, error) {
	task, err := a.Tasks.Resolve(ctx, in.TaskID, in.Decision)
	if err != nil && err != approval.ErrAlreadyResolved {
		return manmodel.ManTask{}, err
	}
	return task, nil
}

// CountPendingInput/Output wrap approval.Repository.CountPending.
type CountPendingInput struct {
	TenantID string `json:"tenant_id"`
}

func (a *Activities) CountPending(ctx context.Context, in CountPendingInput) (int, error) {
	return a.Tasks.CountPending(ctx, in.TenantID)
}

// GeneratePlanInput/Output back the CacheLookup/LLMPlanning phases: a
// semantic-cache lookup keyed on (tenant, workflow, goal), falling back to
// the configured Planner on a miss and populating the cache for next time.
type GeneratePlanInput struct {
	TenantID    string `json:"tenant_id"`
	WorkflowKey string `json:"workflow_key"`
	Goal        string `json:"goal"`
}

type GeneratePlanOutput struct {
	Plan   manmodel.Plan `json:"plan"`
	Cached bool          `json:"cached"`
}

func (a *Activities) GeneratePlan(ctx context.Context, in GeneratePlanInput) (GeneratePlanOutput, error) {
	key := plancache.Key(in.TenantID, in.WorkflowKey, in.Goal)
	if a.PlanCache != nil {
		if plan, ok, err := a.PlanCache.Lookup(ctx, key); err == nil && ok {
			return GeneratePlanOutput{Plan: plan, Cached: true}, nil
		}
	}
	if a.Planner == nil {
		return GeneratePlanOutput{}, errors.New("coordinator: no plan cached and no planner configured")
	}
	plan, err := a.Planner.Plan(ctx, planner.Request{
		Goal:           in.Goal,
		TenantID:       in.TenantID,
		WorkflowKey:    in.WorkflowKey,
		AvailableTools: a.AvailableTools,
	})
	if err != nil {
		return GeneratePlanOutput{}, err
	}
	if a.PlanCache != nil {
		_ = a.PlanCache.Store(ctx, key, plan)
	}
	return GeneratePlanOutput{Plan: plan}, nil
}
