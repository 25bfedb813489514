package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/manorchestra/core/approval"
	"github.com/manorchestra/core/config"
	"github.com/manorchestra/core/llm/anthropic"
	"github.com/manorchestra/core/llm/openai"
	"github.com/manorchestra/core/notify"
	"github.com/manorchestra/core/plancache"
	plancacheredis "github.com/manorchestra/core/plancache/redis"
	"github.com/manorchestra/core/planner"
	"github.com/manorchestra/core/policy"
	policymemstore "github.com/manorchestra/core/policy/memstore"
	policymongo "github.com/manorchestra/core/policy/mongo"
	"github.com/manorchestra/core/store/memstore"
	storemongo "github.com/manorchestra/core/store/mongo"
	"github.com/manorchestra/core/telemetry"
)

// backends bundles the storage and policy collaborators cmd/manctl wires
// into coordinator.Activities, selected by cfg.Store.
type backends struct {
	Tasks     *approval.Repository
	Decisions *approval.DecisionLog
	Policy    *policy.Service
	close     func(context.Context) error
}

func newBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	switch cfg.Store {
	case config.StoreBackendMongo:
		return newMongoBackends(ctx, cfg)
	default:
		return &backends{
			Tasks:     approval.New(memstore.New()),
			Decisions: approval.NewDecisionLog(memstore.New()),
			Policy:    policy.NewService(policymemstore.New()),
			close:     func(context.Context) error { return nil },
		}, nil
	}
}

func newMongoBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("manctl: MAN_MONGO_URI is required when MAN_STORE_BACKEND=mongo")
	}
	client, err := mongodriver.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("manctl: connect mongo: %w", err)
	}

	taskColl, err := storemongo.New(ctx, storemongo.Options{
		Client: client, Database: cfg.MongoDB, Collection: "man_tasks", Timeout: cfg.StoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("manctl: mongo man_tasks collection: %w", err)
	}
	eventColl, err := storemongo.New(ctx, storemongo.Options{
		Client: client, Database: cfg.MongoDB, Collection: "man_decision_events", Timeout: cfg.StoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("manctl: mongo man_decision_events collection: %w", err)
	}
	policyStore, err := policymongo.New(ctx, policymongo.Options{
		Client: client, Database: cfg.MongoDB, Timeout: cfg.StoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("manctl: mongo man_policies store: %w", err)
	}

	return &backends{
		Tasks:     approval.New(taskColl),
		Decisions: approval.NewDecisionLog(eventColl),
		Policy:    policy.NewService(policyStore),
		close: func(ctx context.Context) error {
			return client.Disconnect(ctx)
		},
	}, nil
}

// newPlanCache constructs the Redis-backed semantic plan cache when
// MAN_REDIS_URL is set, or nil (caching disabled) otherwise.
func newPlanCache(cfg config.Config) (plancache.Cache, func() error, error) {
	if cfg.RedisURL == "" {
		return nil, func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, func() error { return nil }, fmt.Errorf("manctl: connect redis: %w", err)
	}
	return plancacheredis.New(rdb, cfg.PlanCacheTTL), rdb.Close, nil
}

// newPlanner constructs the configured default LLM planner backend, or nil
// (no planner) when MAN_LLM_PROVIDER is unset or "none" — goals must then
// arrive with an explicit plan.
func newPlanner(cfg config.Config) (planner.Planner, error) {
	switch cfg.LLM {
	case config.LLMProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("manctl: ANTHROPIC_API_KEY is required when MAN_LLM_PROVIDER=anthropic")
		}
		return anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case config.LLMProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("manctl: OPENAI_API_KEY is required when MAN_LLM_PROVIDER=openai")
		}
		return openai.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case config.LLMProviderBedrock:
		if cfg.BedrockModelID == "" {
			return nil, fmt.Errorf("manctl: BEDROCK_MODEL_ID is required when MAN_LLM_PROVIDER=bedrock")
		}
		return newBedrockPlanner(cfg)
	default:
		return nil, nil
	}
}

func newNotifier(logger telemetry.Logger) *notify.Dispatcher {
	return notify.New(notify.ConfigFromEnv(), logger)
}
