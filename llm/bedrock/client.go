// Package bedrock implements planner.Planner on top of the AWS Bedrock
// Converse API, via github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/manorchestra/core/llm"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/planner"
)

// RuntimeClient is the subset of the Bedrock runtime client the adapter
// calls, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	// ModelID is the Bedrock model identifier (inference profile ARN or
	// foundation model ID) to plan with.
	ModelID string
	// MaxTokens bounds the completion length. Zero lets Bedrock default.
	MaxTokens int
	// Temperature controls sampling. Zero lets Bedrock default.
	Temperature float32
}

// Client is a planner.Planner backed by a single Bedrock Converse call.
type Client struct {
	runtime RuntimeClient
	model   string
	opts    Options
}

var _ planner.Planner = (*Client)(nil)

// New constructs a Client from an explicit RuntimeClient, for tests and
// callers that already hold a configured AWS SDK client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.ModelID == "" {
		return nil, errors.New("bedrock: model id is required")
	}
	return &Client{runtime: runtime, model: opts.ModelID, opts: opts}, nil
}

// Plan implements planner.Planner.
func (c *Client) Plan(ctx context.Context, req planner.Request) (manmodel.Plan, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: llm.SystemPrompt},
		},
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: llm.UserPrompt(req)},
				},
			},
		},
	}
	if cfg := c.inferenceConfig(); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return manmodel.Plan{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	text, err := extractText(out)
	if err != nil {
		return manmodel.Plan{}, err
	}
	return llm.ParsePlan(text)
}

func (c *Client) inferenceConfig() *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	var set bool
	if c.opts.MaxTokens > 0 {
		mt := int32(c.opts.MaxTokens)
		cfg.MaxTokens = &mt
		set = true
	}
	if c.opts.Temperature > 0 {
		t := c.opts.Temperature
		cfg.Temperature = &t
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}

func extractText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("bedrock: response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response contained no message output")
	}
	var text string
	for _, block := range msg.Value.Content {
		if b, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += b.Value
		}
	}
	if text == "" {
		return "", errors.New("bedrock: empty response")
	}
	return text, nil
}
