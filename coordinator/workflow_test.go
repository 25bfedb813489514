package coordinator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/engine/inmem"
	"github.com/manorchestra/core/manerr"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy"
	"github.com/manorchestra/core/policy/memstore"
	storemem "github.com/manorchestra/core/store/memstore"
)

// harness wires a fresh in-memory engine, policy service, and approval
// repository, and registers the coordinator's own activities plus any
// test tool activities supplied by the caller.
type harness struct {
	eng   engine.Engine
	tasks *approval.Repository
}

func newHarness(t *testing.T, tools map[string]engine.ActivityFunc) *harness {
	t.Helper()
	ctx := context.Background()

	eng := inmem.New()
	svc := policy.NewService(memstore.New())
	tasks := approval.New(storemem.New())

	acts := &Activities{Policy: svc, Tasks: tasks}
	if err := acts.RegisterAll(ctx, eng); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	for name, fn := range tools {
		if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: name, Handler: fn}); err != nil {
			t.Fatalf("register tool %q: %v", name, err)
		}
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: "goal", Handler: Workflow}); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	return &harness{eng: eng, tasks: tasks}
}

func (h *harness) start(t *testing.T, id string, req GoalRequest) engine.WorkflowHandle {
	t.Helper()
	handle, err := h.eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: id, Workflow: "goal", Input: req})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	return handle
}

// awaitPendingTask polls the approval repository until a PENDING task for
// tenantID appears, or the deadline passes.
func (h *harness) awaitPendingTask(t *testing.T, tenantID string) manmodel.ManTask {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tasks, err := h.tasks.List(context.Background(), approval.ListFilters{TenantID: tenantID, Status: manmodel.TaskPending}, 0, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(tasks) > 0 {
			return tasks[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no pending task appeared for tenant %q", tenantID)
	return manmodel.ManTask{}
}

func plan(steps ...manmodel.Step) *manmodel.Plan {
	return &manmodel.Plan{ID: "p1", Steps: steps}
}

func TestScenarioSimpleRedApprovalApprove(t *testing.T) {
	var gotInput map[string]any
	h := newHarness(t, map[string]engine.ActivityFunc{
		"delete_record": func(_ context.Context, input any) (any, error) {
			gotInput, _ = input.(map[string]any)
			return map[string]any{"deleted": true}, nil
		},
	})

	req := GoalRequest{
		TenantID:    "t1",
		WorkflowKey: "wf1",
		Goal:        "remove stale record",
		Plan:        plan(manmodel.Step{ID: "s1", Tool: "delete_record", Input: map[string]any{"id": 42}}),
	}
	handle := h.start(t, "wf-a", req)

	task := h.awaitPendingTask(t, "t1")
	if err := handle.Signal(context.Background(), "submit_man_decision", SubmitManDecisionRequest{
		TaskID:  task.ID,
		Payload: manmodel.ManDecisionPayload{Decision: manmodel.DecisionApprove, ReviewerID: "op1"},
	}); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	var out Outcome
	if err := handle.Wait(context.Background(), &out); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Phase != PhaseCompleted {
		t.Fatalf("phase = %v, reason = %v", out.Phase, out.FailureReason)
	}
	if gotInput["id"] != float64(42) && gotInput["id"] != 42 {
		t.Fatalf("tool received unexpected input: %v", gotInput)
	}
}

func TestScenarioRedDenyTriggersRollback(t *testing.T) {
	compensated := make(chan map[string]any, 1)
	h := newHarness(t, map[string]engine.ActivityFunc{
		"log_event": func(_ context.Context, input any) (any, error) {
			return map[string]any{"id": "rec-99"}, nil
		},
		"delete_record": func(_ context.Context, input any) (any, error) {
			return map[string]any{"deleted": true}, nil
		},
		"undo_log_event": func(_ context.Context, input any) (any, error) {
			m, _ := input.(map[string]any)
			compensated <- m
			return map[string]any{"undone": true}, nil
		},
	})

	req := GoalRequest{
		TenantID:    "t1",
		WorkflowKey: "wf1",
		Goal:        "log then remove",
		Plan: plan(
			manmodel.Step{
				ID: "s1", Tool: "log_event",
				Compensation:      "undo_log_event",
				CompensationInput: map[string]any{"id": "{result.id}"},
			},
			manmodel.Step{ID: "s2", Tool: "delete_record", DependsOn: []string{"s1"}, Input: map[string]any{"id": 7}},
		),
	}
	handle := h.start(t, "wf-b", req)

	task := h.awaitPendingTask(t, "t1")
	if err := handle.Signal(context.Background(), "submit_man_decision", SubmitManDecisionRequest{
		TaskID:  task.ID,
		Payload: manmodel.ManDecisionPayload{Decision: manmodel.DecisionDeny, Reason: "not authorized", ReviewerID: "op1"},
	}); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	var out Outcome
	if err := handle.Wait(context.Background(), &out); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Phase != PhaseFailed || out.FailedStepID != "s2" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(out.CompensationResults) != 1 || !out.CompensationResults[0].Success {
		t.Fatalf("expected one successful compensation, got %+v", out.CompensationResults)
	}

	select {
	case m := <-compensated:
		if m["id"] != "rec-99" {
			t.Fatalf("compensation received unresolved placeholder: %v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("compensation activity was never invoked")
	}
}

func TestScenarioRedModifyMergesParams(t *testing.T) {
	var gotInput map[string]any
	h := newHarness(t, map[string]engine.ActivityFunc{
		"delete_record": func(_ context.Context, input any) (any, error) {
			gotInput, _ = input.(map[string]any)
			return map[string]any{"deleted": true}, nil
		},
	})

	req := GoalRequest{
		TenantID:    "t1",
		WorkflowKey: "wf1",
		Goal:        "remove with operator override",
		Plan:        plan(manmodel.Step{ID: "s1", Tool: "delete_record", Input: map[string]any{"id": 42, "soft": true}}),
	}
	handle := h.start(t, "wf-c", req)

	task := h.awaitPendingTask(t, "t1")
	if err := handle.Signal(context.Background(), "submit_man_decision", SubmitManDecisionRequest{
		TaskID: task.ID,
		Payload: manmodel.ManDecisionPayload{
			Decision:       manmodel.DecisionModify,
			ReviewerID:     "op1",
			ModifiedParams: map[string]any{"soft": false},
		},
	}); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	var out Outcome
	if err := handle.Wait(context.Background(), &out); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Phase != PhaseCompleted {
		t.Fatalf("phase = %v, reason = %v", out.Phase, out.FailureReason)
	}
	if gotInput["soft"] != false {
		t.Fatalf("modified param was not merged into tool input: %v", gotInput)
	}
	if gotInput["id"] != float64(42) && gotInput["id"] != 42 {
		t.Fatalf("original param was lost during merge: %v", gotInput)
	}
}

func TestScenarioBacklogBlocksNewWork(t *testing.T) {
	policyDoc := manmodel.DefaultPolicy()
	policyDoc.MaxPendingPerTenant = 0
	policyDoc.DegradeBehavior = manmodel.DegradeBlockNew

	svc := policy.NewService(memstore.New())
	if err := svc.Upsert(context.Background(), policy.Key{Tenant: "t2", Workflow: "wf1"}, policyDoc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	h := newHarnessWithPolicy(t, svc, map[string]engine.ActivityFunc{
		"send_email": func(_ context.Context, _ any) (any, error) {
			return map[string]any{"sent": true}, nil
		},
	})

	req := GoalRequest{
		TenantID:    "t2",
		WorkflowKey: "wf1",
		Goal:        "notify on overload",
		Plan:        plan(manmodel.Step{ID: "s1", Tool: "send_email", Input: map[string]any{"to": "ops@example.com"}}),
	}
	handle := h.start(t, "wf-d", req)

	var out Outcome
	if err := handle.Wait(context.Background(), &out); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Phase != PhaseFailed || out.FailureReason != ErrBacklogOverloaded.Error() {
		t.Fatalf("expected backlog-overloaded failure, got %+v", out)
	}
}

func TestScenarioToolMinimumBlockedFailsWithoutApproval(t *testing.T) {
	policyDoc := manmodel.DefaultPolicy()
	policyDoc.ToolMinimumLanes = map[string]manmodel.ManLane{"delete_record": manmodel.LaneBlocked}

	svc := policy.NewService(memstore.New())
	if err := svc.Upsert(context.Background(), policy.Key{Tenant: "t3", Workflow: "wf1"}, policyDoc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	called := false
	h := newHarnessWithPolicy(t, svc, map[string]engine.ActivityFunc{
		"delete_record": func(_ context.Context, _ any) (any, error) {
			called = true
			return map[string]any{"deleted": true}, nil
		},
	})

	req := GoalRequest{
		TenantID:    "t3",
		WorkflowKey: "wf1",
		Goal:        "purge stale record",
		Plan:        plan(manmodel.Step{ID: "s1", Tool: "delete_record", Input: map[string]any{"id": 1}}),
	}
	handle := h.start(t, "wf-e", req)

	var out Outcome
	if err := handle.Wait(context.Background(), &out); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Phase != PhaseFailed {
		t.Fatalf("expected PhaseFailed, got %+v", out)
	}
	if called {
		t.Fatal("BLOCKED-lane step must never reach the tool activity")
	}
	if !strings.HasPrefix(out.FailureReason, string(manerr.KindPolicyBlocked)+":") {
		t.Fatalf("unexpected failure reason: %q", out.FailureReason)
	}
}

// TestScenarioIndependentRootsExecuteConcurrently exercises spec.md §4.5
// step 3 (frontier steps execute concurrently) against two independent
// root steps with no dependency between them: each tool blocks until both
// have been invoked, so the test only passes if the scheduler dispatches
// both forward tool calls before waiting on either one's result.
func TestScenarioIndependentRootsExecuteConcurrently(t *testing.T) {
	const n = 2
	arrived := make(chan string, n)
	release := make(chan struct{})

	toolFor := func(id string) engine.ActivityFunc {
		return func(_ context.Context, _ any) (any, error) {
			arrived <- id
			<-release
			return map[string]any{"done": true}, nil
		}
	}

	h := newHarness(t, map[string]engine.ActivityFunc{
		"tool_a": toolFor("a"),
		"tool_b": toolFor("b"),
	})

	req := GoalRequest{
		TenantID:    "t9",
		WorkflowKey: "wf9",
		Goal:        "run two independent steps",
		Plan: plan(
			manmodel.Step{ID: "a", Tool: "tool_a"},
			manmodel.Step{ID: "b", Tool: "tool_b"},
		),
	}
	handle := h.start(t, "wf-f", req)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < n {
		select {
		case id := <-arrived:
			seen[id] = true
		case <-deadline:
			t.Fatalf("independent root steps did not both start concurrently, only saw %v", seen)
		}
	}
	close(release)

	var out Outcome
	if err := handle.Wait(context.Background(), &out); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Phase != PhaseCompleted {
		t.Fatalf("phase = %v, reason = %v", out.Phase, out.FailureReason)
	}
}

func newHarnessWithPolicy(t *testing.T, svc *policy.Service, tools map[string]engine.ActivityFunc) *harness {
	t.Helper()
	ctx := context.Background()

	eng := inmem.New()
	tasks := approval.New(storemem.New())

	acts := &Activities{Policy: svc, Tasks: tasks}
	if err := acts.RegisterAll(ctx, eng); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	for name, fn := range tools {
		if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: name, Handler: fn}); err != nil {
			t.Fatalf("register tool %q: %v", name, err)
		}
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: "goal", Handler: Workflow}); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	return &harness{eng: eng, tasks: tasks}
}
