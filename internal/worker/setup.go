package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"github.com/medscale/qgen-eval/internal/blueprint"
	"github.com/medscale/qgen-eval/internal/dispatch"
	"github.com/medscale/qgen-eval/internal/generation"
	"github.com/medscale/qgen-eval/internal/jobs"
	"github.com/medscale/qgen-eval/internal/llm"
	internalworkflow "github.com/medscale/qgen-eval/internal/workflow"
)

// Config carries the deployment knobs for the batch stack. Every field
// has a zero-value fallback so a bare environment still runs, on the
// in-memory store and the synchronous dispatch path.
type Config struct {
	// RedisAddr selects the Redis job store; empty selects the
	// in-memory store.
	RedisAddr string

	// TemporalHostPort selects the task-queue path; empty leaves the
	// dispatcher queueless so every batch runs synchronously.
	TemporalHostPort string

	Logger *slog.Logger
}

// ConfigFromEnv reads the deployment knobs from the environment.
func ConfigFromEnv() Config {
	return Config{
		RedisAddr:        os.Getenv("QGEN_REDIS_ADDR"),
		TemporalHostPort: os.Getenv("TEMPORAL_HOST_PORT"),
	}
}

// Stack is the assembled batch-processing dependency graph.
type Stack struct {
	Jobs       *jobs.Manager
	Executor   *generation.Executor
	Dispatcher *dispatch.Dispatcher

	// Temporal is non-nil when a queue was configured; callers own
	// closing it.
	Temporal client.Client
}

// Close releases the stack's resources.
func (s *Stack) Close() {
	s.Dispatcher.Close()
	if s.Temporal != nil {
		s.Temporal.Close()
	}
}

// BuildStack wires store, executor, and dispatcher from config.
func BuildStack(cfg Config) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var store jobs.Store = jobs.NewMemoryStore()
	var catalogSource blueprint.CatalogSource = blueprint.StaticSource{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = jobs.NewRedisStore(redisClient)
		catalogSource = blueprint.NewRedisSource(redisClient, "qgen:blueprints")
	}
	manager := jobs.NewManager(store, logger)

	// The catalog is loaded once at startup through the TTL cache; a
	// source with nothing to serve falls back to the built-in catalog.
	catalog := blueprint.NewCache(catalogSource, blueprint.DefaultCatalogTTL)
	selector, err := catalog.Selector(context.Background())
	if err != nil {
		logger.Warn("blueprint catalog load failed, using built-in catalog", "error", err)
		selector = blueprint.NewSelector()
	}

	llmClient := llm.NewClientFromEnv(logger)
	strategies := generation.NewDefaultStrategies(llmClient, selector, logger)
	executor := generation.NewExecutor(strategies, logger)

	var queue dispatch.TaskQueue
	var temporalClient client.Client
	if cfg.TemporalHostPort != "" {
		c, err := client.Dial(client.Options{HostPort: cfg.TemporalHostPort})
		if err != nil {
			return nil, fmt.Errorf("connect temporal: %w", err)
		}
		temporalClient = c
		queue = dispatch.NewTemporalQueue(c, internalworkflow.TaskQueueName)
	}

	dispatcher, err := dispatch.NewDispatcher(manager, executor, queue, logger)
	if err != nil {
		if temporalClient != nil {
			temporalClient.Close()
		}
		return nil, err
	}

	return &Stack{Jobs: manager, Executor: executor, Dispatcher: dispatcher, Temporal: temporalClient}, nil
}
