package openai

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/manorchestra/core/planner"
)

type stubCompletionsClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
}

func (s *stubCompletionsClient) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = params
	return s.resp, s.err
}

func TestPlanParsesPlanFromResponseText(t *testing.T) {
	stub := &stubCompletionsClient{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: `{"id":"p1","steps":[{"id":"s1","tool":"send_email","input":{}}]}`}},
		},
	}}

	cl, err := New(stub, Options{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan, err := cl.Plan(context.Background(), planner.Request{Goal: "email someone"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.ID != "p1" || len(plan.Steps) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if stub.lastParams.Model != "gpt-4o" {
		t.Fatalf("unexpected model sent: %v", stub.lastParams.Model)
	}
}

func TestPlanRejectsNoChoices(t *testing.T) {
	stub := &stubCompletionsClient{resp: &openai.ChatCompletion{}}
	cl, err := New(stub, Options{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cl.Plan(context.Background(), planner.Request{Goal: "x"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestNewRejectsMissingModel(t *testing.T) {
	if _, err := New(&stubCompletionsClient{}, Options{}); err == nil {
		t.Fatal("expected error for missing model")
	}
}
