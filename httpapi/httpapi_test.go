package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/coordinator"
	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/engine/inmem"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy"
	policymemstore "github.com/manorchestra/core/policy/memstore"
	storemem "github.com/manorchestra/core/store/memstore"
)

func newTestServer(t *testing.T) (*Server, engine.Engine) {
	t.Helper()
	eng := inmem.New()
	tasks := approval.New(storemem.New())
	decisions := approval.NewDecisionLog(storemem.New())
	policies := policy.NewService(policymemstore.New())

	acts := &coordinator.Activities{Policy: policies, Tasks: tasks}
	if err := acts.RegisterAll(context.Background(), eng); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if err := eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name:    coordinator.WorkflowName,
		Handler: coordinator.Workflow,
	}); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	return &Server{Engine: eng, Tasks: tasks, Decisions: decisions, Policies: policies}, eng
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateGoalStartsWorkflow(t *testing.T) {
	s, eng := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodPost, "/api/v1/goals", createGoalRequest{
		UserID: "u1", UserIntent: "say hello", TraceID: "trace-1", TenantID: "t1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp createGoalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.WorkflowID != "trace-1" {
		t.Fatalf("workflowId = %q", resp.WorkflowID)
	}
	if _, err := eng.GetWorkflowHandle(context.Background(), "trace-1"); err != nil {
		t.Fatalf("GetWorkflowHandle: %v", err)
	}
}

func TestCreateGoalRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodPost, "/api/v1/goals", createGoalRequest{UserID: "u1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetPolicyReturnsDefault(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodGet, "/api/v1/man/policies?tenant_id=t1&workflow_key=wf1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listPoliciesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Policies) != 1 {
		t.Fatalf("expected exactly one policy, got %d", len(resp.Policies))
	}
}

func TestPutPolicyThenGetReflectsUpdate(t *testing.T) {
	s, _ := newTestServer(t)
	updated := manmodel.DefaultPolicy()
	updated.MaxPendingPerTenant = 7

	putRec := doRequest(t, s.Router(), http.MethodPut, "/api/v1/man/policies?tenant_id=t1&workflow_key=wf1&updated_by=alice", updated)
	if putRec.Code != http.StatusOK {
		t.Fatalf("put status = %d body = %s", putRec.Code, putRec.Body.String())
	}

	getRec := doRequest(t, s.Router(), http.MethodGet, "/api/v1/man/policies?tenant_id=t1&workflow_key=wf1", nil)
	var resp listPoliciesResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Policies[0].MaxPendingPerTenant != 7 {
		t.Fatalf("MaxPendingPerTenant = %d", resp.Policies[0].MaxPendingPerTenant)
	}
}

func TestPauseResumeSignalsRunningWorkflow(t *testing.T) {
	s, eng := newTestServer(t)
	if err := eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: "blocker",
		Handler: func(wc engine.WorkflowContext, _ any) (any, error) {
			var p coordinator.PauseSignal
			if err := wc.SignalChannel("pause").Receive(wc.Context(), &p); err != nil {
				return nil, err
			}
			var r struct{}
			if err := wc.SignalChannel("resume").Receive(wc.Context(), &r); err != nil {
				return nil, err
			}
			return p.Reason, nil
		},
	}); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	handle, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "wf-pause", Workflow: "blocker"})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	rec := doRequest(t, s.Router(), http.MethodPost, "/api/v1/workflows/wf-pause/pause", map[string]string{"reason": "testing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s.Router(), http.MethodPost, "/api/v1/workflows/wf-pause/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d body = %s", rec.Code, rec.Body.String())
	}

	var out string
	if err := handle.Wait(context.Background(), &out); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out != "testing" {
		t.Fatalf("result = %q", out)
	}
}

func TestSignalUnknownWorkflowReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodPost, "/api/v1/workflows/missing/cancel", map[string]string{"reason": "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
