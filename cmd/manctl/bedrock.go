package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/manorchestra/core/config"
	"github.com/manorchestra/core/llm/bedrock"
	"github.com/manorchestra/core/planner"
)

// newBedrockPlanner resolves AWS credentials from the default SDK chain
// (environment, shared config, instance role) rather than a single env var,
// since Bedrock has no API-key concept.
func newBedrockPlanner(cfg config.Config) (planner.Planner, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.BedrockRegion))
	if err != nil {
		return nil, fmt.Errorf("manctl: load aws config: %w", err)
	}
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	return bedrock.New(runtime, bedrock.Options{ModelID: cfg.BedrockModelID})
}
