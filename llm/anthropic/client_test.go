package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/manorchestra/core/planner"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestPlanParsesPlanFromResponseText(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: `{"id":"p1","steps":[{"id":"s1","tool":"send_email","input":{"to":"a@b.com"}}]}`},
		},
	}}
	cl, err := New(stub, Options{Model: "claude-3.5-sonnet"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan, err := cl.Plan(context.Background(), planner.Request{Goal: "email someone"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.ID != "p1" || len(plan.Steps) != 1 || plan.Steps[0].Tool != "send_email" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if stub.lastParams.Model != sdk.Model("claude-3.5-sonnet") {
		t.Fatalf("unexpected model sent: %v", stub.lastParams.Model)
	}
}

func TestPlanRejectsEmptyResponse(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(stub, Options{Model: "claude-3.5-sonnet"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cl.Plan(context.Background(), planner.Request{Goal: "x"}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestNewRejectsMissingModel(t *testing.T) {
	if _, err := New(&stubMessagesClient{}, Options{}); err == nil {
		t.Fatal("expected error for missing model")
	}
}
