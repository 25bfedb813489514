package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/events"
	"github.com/manorchestra/core/manerr"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy/triage"
	"github.com/manorchestra/core/saga"
	"github.com/manorchestra/core/scheduler"
)

// knownIrreversibleTools and knownRightsAffectingTools derive IntentFlags
// from step metadata per spec.md §4.6 step 3.
var (
	knownIrreversibleTools = map[string]bool{
		"send_email": true, "call_webhook": true, "create_record": true, "delete_record": true,
	}
	knownRightsAffectingTools = map[string]bool{
		"update_user": true, "delete_user": true, "change_permissions": true,
	}
	sensitiveParamFragments = []string{"password", "secret", "token", "key"}
)

func deriveFlags(toolName string, params map[string]any) manmodel.IntentFlags {
	flags := manmodel.IntentFlags{
		Irreversible:  knownIrreversibleTools[toolName],
		AffectsRights: knownRightsAffectingTools[toolName],
	}
	for k := range params {
		lower := strings.ToLower(k)
		for _, frag := range sensitiveParamFragments {
			if strings.Contains(lower, frag) {
				flags.ContainsSensitiveData = true
			}
		}
	}
	return flags
}

// Default per-activity retry/timeout policy for forward tool invocations
// and their compensations, per spec.md §5: 30s/15s timeouts, 3/2 attempts,
// 1s initial interval, x2 exponential backoff (capped at 10s by the
// engine adapter).
var (
	ForwardActivityRetryPolicy = engine.RetryPolicy{
		MaxAttempts: 3, InitialInterval: time.Second, BackoffCoefficient: 2, MaxInterval: 10 * time.Second,
	}
	ForwardActivityTimeout = 30 * time.Second

	CompensationRetryPolicy = engine.RetryPolicy{
		MaxAttempts: 2, InitialInterval: time.Second, BackoffCoefficient: 2, MaxInterval: 10 * time.Second,
	}
	CompensationTimeout = 15 * time.Second
)

// ErrWorkflowCancelled is raised (non-retryable) when the cancel latch is
// found set before a step starts or when an approval wait begins. A cancel
// signal that arrives during an approval wait is not seen until that wait
// ends.
var ErrWorkflowCancelled = manerr.New(manerr.KindCancelled, "")

// ErrBacklogOverloaded is raised under BLOCK_NEW degrade behavior.
var ErrBacklogOverloaded = manerr.New(manerr.KindBacklogOverloaded, "")

// Workflow is the coordinator's engine.WorkflowFunc: it drives one goal
// from GoalReceived to a terminal Completed/Failed outcome, gating
// RED-lane steps on a human decision and rolling back via saga
// compensation on failure.
func Workflow(ctx engine.WorkflowContext, input any) (any, error) {
	req, err := decodeInput[GoalRequest](input)
	if err != nil {
		return nil, err
	}
	st := newState(req)
	return run(ctx, st)
}

// ResumeFromSnapshot runs a workflow from a Snapshot. Workflow never
// produces a snapshot or continues as new, so nothing in this module
// calls it.
func ResumeFromSnapshot(ctx engine.WorkflowContext, snap Snapshot) (any, error) {
	return run(ctx, fromSnapshot(snap))
}

func run(ctx engine.WorkflowContext, st *state) (any, error) {
	started := ctx.Now()
	st.Log.Append(events.Event{
		Kind: events.KindGoalReceived, WorkflowID: ctx.WorkflowID(),
		CorrelationID: ctx.WorkflowID(), Timestamp: started,
		Payload: map[string]any{"goal": st.Request.Goal, "tenant_id": st.Request.TenantID},
	})

	if st.Plan.ID == "" {
		if st.Request.Plan != nil {
			st.Plan = *st.Request.Plan
		} else {
			var gen GeneratePlanOutput
			if err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
				Name: ActivityGeneratePlan,
				Input: GeneratePlanInput{
					TenantID:    st.Request.TenantID,
					WorkflowKey: st.Request.WorkflowKey,
					Goal:        st.Request.Goal,
				},
			}, &gen); err != nil {
				return failOutcome(st, "", err.Error(), started, ctx.Now()), nil
			}
			st.Plan = gen.Plan
		}
	}
	st.Log.Append(events.Event{
		Kind: events.KindPlanGenerated, WorkflowID: ctx.WorkflowID(),
		CorrelationID: ctx.WorkflowID(), Timestamp: ctx.Now(),
		Payload: map[string]any{"plan_id": st.Plan.ID, "step_count": len(st.Plan.Steps)},
	})

	policyVal, err := loadPolicy(ctx, st)
	if err != nil {
		return nil, err
	}

	starter := func(step manmodel.Step) (engine.Future, error) {
		finalParams, err := prepareStep(ctx, st, policyVal, step)
		if err != nil {
			return completedFuture{err: err}, nil
		}
		return dispatchStep(ctx, st, step, finalParams)
	}

	result, schedErr := scheduler.Execute(ctx.Context(), st.Plan, starter)
	for id, outcome := range result.Outcomes {
		if outcome.Output != nil {
			st.StepResults[id] = outcome.Output
		}
	}

	if st.Cancelled {
		compResults := saga.Rollback(ctx, activityExecutor, st.Saga)
		return cancelledOutcome(st, compResults, started, ctx.Now()), nil
	}

	if schedErr != nil {
		compResults := saga.Rollback(ctx, activityExecutor, st.Saga)
		return failOutcomeWithCompensation(st, "", schedErr.Error(), compResults, started, ctx.Now()), nil
	}

	if result.FailedStepID != "" {
		failedErr := result.Outcomes[result.FailedStepID].Err
		reason := ""
		if failedErr != nil {
			reason = failedErr.Error()
		}
		compResults := saga.Rollback(ctx, activityExecutor, st.Saga)
		return failOutcomeWithCompensation(st, result.FailedStepID, reason, compResults, started, ctx.Now()), nil
	}

	finished := ctx.Now()
	st.Log.Append(events.Event{
		Kind: events.KindWorkflowCompleted, WorkflowID: ctx.WorkflowID(),
		CorrelationID: ctx.WorkflowID(), Timestamp: finished,
	})
	return Outcome{
		Phase:       PhaseCompleted,
		StepResults: st.StepResults,
		DurationMS:  finished.Sub(started).Milliseconds(),
	}, nil
}

func failOutcome(st *state, failedStepID, reason string, started, finished time.Time) Outcome {
	return Outcome{
		Phase:         PhaseFailed,
		FailedStepID:  failedStepID,
		FailureReason: reason,
		StepResults:   st.StepResults,
		DurationMS:    finished.Sub(started).Milliseconds(),
	}
}

func failOutcomeWithCompensation(st *state, failedStepID, reason string, compResults []saga.CompensationResult, started, finished time.Time) Outcome {
	o := failOutcome(st, failedStepID, reason, started, finished)
	o.CompensationResults = compResults
	return o
}

func cancelledOutcome(st *state, compResults []saga.CompensationResult, started, finished time.Time) Outcome {
	return Outcome{
		Phase:               PhaseFailed,
		FailureReason:       ErrWorkflowCancelled.Error(),
		StepResults:         st.StepResults,
		CompensationResults: compResults,
		DurationMS:          finished.Sub(started).Milliseconds(),
	}
}

// drainPending absorbs any signals that have already arrived on the
// buffered signal channels, without blocking, applying them to state.
// Called at every step boundary so pause/resume/cancel/force_man_mode
// take effect promptly without a dedicated background goroutine (which
// would otherwise race with the single-threaded workflow goroutine).
func drainPending(ctx engine.WorkflowContext, st *state) {
	for {
		applied := false
		var pause PauseSignal
		if ctx.SignalChannel("pause").ReceiveAsync(&pause) {
			st.Paused = true
			applied = true
		}
		var resume struct{}
		if ctx.SignalChannel("resume").ReceiveAsync(&resume) {
			st.Paused = false
			applied = true
		}
		var cancel CancelSignal
		if ctx.SignalChannel("cancel").ReceiveAsync(&cancel) {
			st.Cancelled = true
			applied = true
		}
		var force ForceManModeSignal
		if ctx.SignalChannel("force_man_mode").ReceiveAsync(&force) {
			if force.Scope == ForceManModeAll {
				st.ForceManModeAll = true
			} else {
				for _, id := range force.StepIDs {
					st.ForceManModeSteps[id] = true
				}
			}
			applied = true
		}
		var decision SubmitManDecisionRequest
		if ctx.SignalChannel("submit_man_decision").ReceiveAsync(&decision) {
			st.PendingDecisions[decision.TaskID] = decision.Payload
			applied = true
		}
		if !applied {
			return
		}
	}
}

func loadPolicy(ctx engine.WorkflowContext, st *state) (manmodel.ManPolicy, error) {
	var p manmodel.ManPolicy
	err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name:  ActivityLoadPolicy,
		Input: LoadPolicyInput{TenantID: st.Request.TenantID, WorkflowKey: st.Request.WorkflowKey},
	}, &p)
	return p, err
}

// prepareStep executes the per-step gate protocol (spec.md §4.6): cancel/
// pause checks, ActionIntent construction, backlog check, triage, and the
// RED-lane MAN gate. It runs to completion (including any block on
// awaitDecision) before returning, since this state is inherently
// sequential per step; the forward tool call it resolves is dispatched
// separately by dispatchStep so independent frontier steps can run their
// tool activities concurrently.
func prepareStep(ctx engine.WorkflowContext, st *state, p manmodel.ManPolicy, step manmodel.Step) (map[string]any, error) {
	drainPending(ctx, st)
	if st.Cancelled {
		return nil, ErrWorkflowCancelled
	}
	for st.Paused {
		var resume struct{}
		if err := ctx.SignalChannel("resume").Receive(ctx.Context(), &resume); err != nil {
			return nil, err
		}
		st.Paused = false
		drainPending(ctx, st)
		if st.Cancelled {
			return nil, ErrWorkflowCancelled
		}
	}

	params := step.Input
	intent := manmodel.NewActionIntent(st.Request.TenantID, ctx.WorkflowID(), ctx.RunID(), step.ID, step.Tool, params, deriveFlags(step.Tool, params))

	var pending int
	if err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name:  ActivityCountPending,
		Input: CountPendingInput{TenantID: st.Request.TenantID},
	}, &pending); err == nil && pending >= p.MaxPendingPerTenant {
		switch p.DegradeBehavior {
		case manmodel.DegradeBlockNew:
			return nil, ErrBacklogOverloaded
		case manmodel.DegradeForcePause:
			st.Paused = true
			return nil, ErrBacklogOverloaded
		case manmodel.DegradeAutoDeny:
			return nil, manerr.Newf(manerr.KindDenied, "step %s denied under backlog degrade policy", step.ID).
				WithDetails(map[string]any{"step_id": step.ID})
		}
	}

	result := triage.Triage(intent, p, st.Request.WorkflowKey, nil)
	if st.ForceManModeAll || st.ForceManModeSteps[step.ID] {
		result.Lane = result.Lane.Promote(manmodel.LaneRed)
	}

	if result.Lane == manmodel.LaneBlocked {
		return nil, manerr.Newf(manerr.KindPolicyBlocked, "step %s blocked by policy: %s", step.ID, strings.Join(result.Reasons, "; ")).
			WithDetails(map[string]any{"step_id": step.ID, "tool_name": step.Tool, "risk_score": result.RiskScore})
	}

	finalParams := params
	if result.Lane == manmodel.LaneRed {
		var task manmodel.ManTask
		if err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
			Name:  ActivityCreateManTask,
			Input: CreateManTaskInput{Intent: intent, Triage: result},
		}, &task); err != nil {
			return nil, err
		}
		st.Log.Append(events.Event{
			Kind: events.KindManTaskOpened, WorkflowID: ctx.WorkflowID(), StepID: step.ID,
			CorrelationID: task.ID, Timestamp: ctx.Now(),
		})

		decision, err := awaitDecision(ctx, st, task.ID)
		if err != nil {
			return nil, err
		}
		if err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
			Name:  ActivityResolveManTask,
			Input: ResolveManTaskInput{TaskID: task.ID, Decision: decision},
		}, &task); err != nil {
			return nil, err
		}
		st.Log.Append(events.Event{
			Kind: events.KindManDecisionApplied, WorkflowID: ctx.WorkflowID(), StepID: step.ID,
			CorrelationID: task.ID, Timestamp: ctx.Now(),
			Payload: map[string]any{"decision": decision.Decision},
		})

		switch decision.Decision {
		case manmodel.DecisionApprove:
		case manmodel.DecisionModify:
			finalParams = mergeParams(params, decision.ModifiedParams)
		case manmodel.DecisionDeny:
			return nil, manerr.Newf(manerr.KindDenied, "step %s denied by operator: %s", step.ID, decision.Reason).
				WithDetails(map[string]any{"step_id": step.ID, "reviewer_id": decision.ReviewerID})
		case manmodel.DecisionCancelWorkflow:
			st.Cancelled = true
			return nil, ErrWorkflowCancelled
		}
	}

	return finalParams, nil
}

// dispatchStep schedules step's forward tool call via ExecuteActivityAsync
// and returns immediately with a Future, so the scheduler can dispatch the
// rest of the frontier's tool calls before waiting on any of them
// (spec.md §4.5 step 3: frontier steps execute concurrently). Saga
// compensation registration and the ToolResultReceived log entry happen
// when the returned Future is resolved, not at dispatch time.
func dispatchStep(ctx engine.WorkflowContext, st *state, step manmodel.Step, finalParams map[string]any) (engine.Future, error) {
	st.Log.Append(events.Event{
		Kind: events.KindToolCallRequested, WorkflowID: ctx.WorkflowID(), StepID: step.ID,
		CorrelationID: step.ID, Timestamp: ctx.Now(),
		Payload: map[string]any{"tool": step.Tool, "input": finalParams},
	})

	fut, err := ctx.ExecuteActivityAsync(ctx.Context(), engine.ActivityRequest{
		Name:        step.Tool,
		Input:       finalParams,
		RetryPolicy: ForwardActivityRetryPolicy,
		Timeout:     ForwardActivityTimeout,
	})
	if err != nil {
		return completedFuture{err: err}, nil
	}

	return &sagaFuture{
		ctx:               ctx,
		inner:             fut,
		sagaCtx:           st.Saga,
		log:               st.Log,
		stepID:            step.ID,
		compensationTool:  step.Compensation,
		compensationInput: step.CompensationInput,
	}, nil
}

// awaitDecision blocks until a decision for taskID arrives on the
// submit_man_decision signal channel; decisions for other tasks are kept
// in st.PendingDecisions. It returns ErrWorkflowCancelled only when the
// cancel latch is already set as it checks; it does not receive on the
// cancel channel, so a cancel signal sent during the wait does not end it.
func awaitDecision(ctx engine.WorkflowContext, st *state, taskID string) (manmodel.ManDecisionPayload, error) {
	for {
		if decision, ok := st.PendingDecisions[taskID]; ok {
			delete(st.PendingDecisions, taskID)
			return decision, nil
		}
		if st.Cancelled {
			return manmodel.ManDecisionPayload{}, ErrWorkflowCancelled
		}
		var decision SubmitManDecisionRequest
		if err := ctx.SignalChannel("submit_man_decision").Receive(ctx.Context(), &decision); err != nil {
			return manmodel.ManDecisionPayload{}, err
		}
		if decision.TaskID == taskID {
			return decision.Payload, nil
		}
		st.PendingDecisions[decision.TaskID] = decision.Payload
	}
}

func mergeParams(original, modified map[string]any) map[string]any {
	merged := make(map[string]any, len(original)+len(modified))
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range modified {
		merged[k] = v
	}
	return merged
}

// activityExecutor adapts saga.Executor to the engine's ExecuteActivity,
// invoking the compensation activity named on the step with its resolved
// input.
func activityExecutor(ctx engine.WorkflowContext, step saga.CompensationStep) error {
	var out map[string]any
	return ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name:        step.ActivityName,
		Input:       step.Input,
		RetryPolicy: CompensationRetryPolicy,
		Timeout:     CompensationTimeout,
	}, &out)
}

// completedFuture wraps an already-resolved outcome for a step that failed
// (or was denied/blocked/cancelled) during prepareStep, before any tool
// activity was ever dispatched, so the scheduler's generic Future-based
// frontier waiting works uniformly across both outcomes.
type completedFuture struct {
	output map[string]any
	err    error
}

func (f completedFuture) Get(_ context.Context, result any) error {
	if dest, ok := result.(*map[string]any); ok {
		*dest = f.output
	}
	return f.err
}

func (f completedFuture) IsReady() bool { return true }

// sagaFuture wraps the Future returned by a step's async forward tool
// call: resolving it (via Get) registers the step's compensation on
// success and appends the ToolResultReceived log entry, deferring both
// until the scheduler actually waits on this step rather than doing them
// at dispatch time. Get is idempotent, matching the Future contract.
type sagaFuture struct {
	ctx               engine.WorkflowContext
	inner             engine.Future
	sagaCtx           *saga.Context
	log               *events.Log
	stepID            string
	compensationTool  string
	compensationInput map[string]any

	resolved bool
	output   map[string]any
	err      error
}

func (f *sagaFuture) Get(ctx context.Context, result any) error {
	if !f.resolved {
		var out map[string]any
		err := f.inner.Get(ctx, &out)
		f.output, f.err = out, err
		f.resolved = true

		if err == nil && f.compensationTool != "" {
			f.sagaCtx.Push(saga.CompensationStep{
				StepID:       f.stepID,
				ActivityName: f.compensationTool,
				Input:        saga.ResolvePlaceholders(f.compensationInput, out),
			})
		}
		f.log.Append(events.Event{
			Kind: events.KindToolResultReceived, WorkflowID: f.ctx.WorkflowID(), StepID: f.stepID,
			CorrelationID: f.stepID, Timestamp: f.ctx.Now(),
			Payload: map[string]any{"success": err == nil},
		})
	}
	if dest, ok := result.(*map[string]any); ok {
		*dest = f.output
	}
	return f.err
}

func (f *sagaFuture) IsReady() bool { return f.inner.IsReady() }
