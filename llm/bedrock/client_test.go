package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/manorchestra/core/planner"
)

type stubRuntimeClient struct {
	lastInput *bedrockruntime.ConverseInput
	resp      *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubRuntimeClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.resp, s.err
}

func TestPlanParsesPlanFromResponseText(t *testing.T) {
	stub := &stubRuntimeClient{resp: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: `{"id":"p1","steps":[{"id":"s1","tool":"send_email","input":{}}]}`},
				},
			},
		},
	}}

	cl, err := New(stub, Options{ModelID: "anthropic.claude-3-5-sonnet"})
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
	if stub.lastInput == nil || *stub.lastInput.ModelId != "anthropic.claude-3-5-sonnet" {
		t.Fatalf("unexpected model sent: %+v", stub.lastInput)
	}
}

func TestPlanRejectsNonMessageOutput(t *testing.T) {
	stub := &stubRuntimeClient{resp: &bedrockruntime.ConverseOutput{}}
	cl, err := New(stub, Options{ModelID: "m"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cl.Plan(context.Background(), planner.Request{Goal: "x"}); err == nil {
		t.Fatal("expected error for missing message output")
	}
}

func TestNewRejectsMissingModelID(t *testing.T) {
	if _, err := New(&stubRuntimeClient{}, Options{}); err == nil {
		t.Fatal("expected error for missing model id")
	}
}
