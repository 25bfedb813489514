// Package openai implements planner.Planner on top of the OpenAI Chat
// Completions API, via github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/manorchestra/core/llm"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/planner"
)

// CompletionsClient is the subset of the OpenAI SDK used by Client, so
// tests can substitute a fake in place of the real chat completions
// service.
type CompletionsClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	// Model is the OpenAI chat model to plan with, e.g. openai.ChatModelGPT4o.
	Model string
}

// Client is a planner.Planner backed by a single Chat Completions call.
type Client struct {
	completions CompletionsClient
	model       string
}

var _ planner.Planner = (*Client)(nil)

// New constructs a Client from an explicit CompletionsClient, for tests
// and callers that already hold a configured SDK client.
func New(completions CompletionsClient, opts Options) (*Client, error) {
	if completions == nil {
		return nil, errors.New("openai: completions client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	return &Client{completions: completions, model: opts.Model}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP
// transport.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{Model: model})
}

// Plan implements planner.Planner.
func (c *Client) Plan(ctx context.Context, req planner.Request) (manmodel.Plan, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llm.SystemPrompt),
			openai.UserMessage(llm.UserPrompt(req)),
		},
	}
	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return manmodel.Plan{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return manmodel.Plan{}, errors.New("openai: empty response")
	}
	text := completion.Choices[0].Message.Content
	if text == "" {
		return manmodel.Plan{}, errors.New("openai: empty response")
	}
	return llm.ParsePlan(text)
}
