// Package anthropic implements planner.Planner using the Anthropic Claude
// Messages API, via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/manorchestra/core/llm"
	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/planner"
)

// MessagesClient captures the subset of the Anthropic SDK used by Client,
// so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	// Model is the Claude model identifier to plan with, e.g. the string
	// form of one of the anthropic-sdk-go Model constants.
	Model string
	// MaxTokens bounds the completion length. Defaults to 2048.
	MaxTokens int
}

// Client is a planner.Planner backed by a single Anthropic Messages call.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

var _ planner.Planner = (*Client)(nil)

// New constructs a Client from an explicit MessagesClient, for tests and
// callers that already hold a configured SDK client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Client{msg: msg, model: opts.Model, maxTokens: int64(maxTokens)}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// transport, reading credentials the SDK's own option package expects.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

// Plan implements planner.Planner.
func (c *Client) Plan(ctx context.Context, req planner.Request) (manmodel.Plan, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: llm.SystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(llm.UserPrompt(req))),
		},
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return manmodel.Plan{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Text != "" {
			text += block.Text
		}
	}
	if text == "" {
		return manmodel.Plan{}, errors.New("anthropic: empty response")
	}
	return llm.ParsePlan(text)
}
