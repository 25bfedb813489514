// Package config loads manorchestra's process configuration from the
// environment, following the same envOr/envIntOr/envDurationOr idiom the
// teacher's registry command uses: every setting has a workable default so
// `cmd/manctl` runs against in-memory/local backends out of the box, and
// production deployments override individual variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// StoreBackend selects the persistence implementation for ManTasks,
// decision events, and policies.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendMongo  StoreBackend = "mongo"
)

// LLMProvider selects which llm/* adapter backs the default planner.
type LLMProvider string

const (
	LLMProviderNone      LLMProvider = "none"
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderBedrock   LLMProvider = "bedrock"
	LLMProviderOpenAI    LLMProvider = "openai"
)

// Config is the fully-resolved process configuration, read once at startup
// by cmd/manctl and passed down to the engine, store, policy, planner, and
// HTTP layers it wires together.
type Config struct {
	// Durable executor, per spec.md §6.
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Operator HTTP API, per spec.md §6.
	APIHost string
	APIPort int

	LogLevel string

	Store        StoreBackend
	MongoURI     string
	MongoDB      string
	StoreTimeout time.Duration

	// RedisURL configures the optional semantic plan-cache layer. Empty
	// disables the cache, falling back to planner calls on every goal.
	RedisURL      string
	RedisPassword string
	PlanCacheTTL  time.Duration

	LLM             LLMProvider
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	BedrockModelID  string
	BedrockRegion   string
}

// FromEnv reads the process environment into a Config, applying the
// defaults spec.md §6 documents for the durable executor and HTTP API.
// Everything else (storage backend, plan cache, LLM provider) defaults to
// the zero-dependency local path: in-memory store, no cache, no planner.
func FromEnv() Config {
	return Config{
		TemporalHost:      envOr("TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: envOr("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: envOr("TEMPORAL_TASK_QUEUE", "manorchestra"),

		APIHost: envOr("API_HOST", "0.0.0.0"),
		APIPort: envIntOr("API_PORT", 8000),

		LogLevel: envOr("LOG_LEVEL", "info"),

		Store:        StoreBackend(envOr("MAN_STORE_BACKEND", string(StoreBackendMemory))),
		MongoURI:     os.Getenv("MAN_MONGO_URI"),
		MongoDB:      envOr("MAN_MONGO_DATABASE", "manorchestra"),
		StoreTimeout: envDurationOr("MAN_STORE_TIMEOUT", 5*time.Second),

		RedisURL:      os.Getenv("MAN_REDIS_URL"),
		RedisPassword: os.Getenv("MAN_REDIS_PASSWORD"),
		PlanCacheTTL:  envDurationOr("MAN_PLAN_CACHE_TTL", 10*time.Minute),

		LLM:             LLMProvider(envOr("MAN_LLM_PROVIDER", string(LLMProviderNone))),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     envOr("OPENAI_MODEL", "gpt-4o"),
		BedrockModelID:  os.Getenv("BEDROCK_MODEL_ID"),
		BedrockRegion:   envOr("AWS_REGION", "us-east-1"),
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
