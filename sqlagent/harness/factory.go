package harness

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent/config"
	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/adapters"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

const (
	minIterations = 1
	maxIterations = 50

	// rateLimitKey is shared by the controller and the query checker: both spend the same model quota.
	rateLimitKey = "llm"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	harnessConfig *config.HarnessConfig
	db            *sql.DB // Optional, for run history
	logger        zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(harnessConfig *config.HarnessConfig, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		harnessConfig: harnessConfig,
		db:            db,
		logger:        logger,
	}
}

// CreateOrchestrator wires an orchestrator around provider and registry. The provider should
// already be wrapped with WrapProvider when it is shared with tools.
func (f *Factory) CreateOrchestrator(provider ports.Provider, builder *PromptBuilder, registry *Registry) (*Orchestrator, error) {
	opts := []Option{WithMetrics(NewMetricsCollector())}
	if f.harnessConfig.EnableGuardrails {
		opts = append(opts, WithGuardrails(f.CreateGuardrails()))
	}

	registry, err := registry.Restrict(f.harnessConfig.AllowedTools)
	if err != nil {
		return nil, fmt.Errorf("failed to apply tool allowlist: %w", err)
	}

	return NewOrchestrator(
		provider,
		builder,
		NewOutputParser(),
		registry,
		f.CreateStore(),
		f.createTracer(),
		opts...,
	), nil
}

// WrapProvider applies the configured rate limit to provider.
func (f *Factory) WrapProvider(provider ports.Provider) ports.Provider {
	return NewLimitedProvider(provider, f.createRateLimiter(), rateLimitKey)
}

// CreateCache creates the cache used by the query checker.
func (f *Factory) CreateCache() ports.Cache {
	if !f.harnessConfig.CacheEnabled {
		return &noOpCache{}
	}

	return adapters.NewLRUCache(f.harnessConfig.CacheCapacity)
}

// CacheTTL returns the configured entry lifetime in seconds.
func (f *Factory) CacheTTL() int {
	return f.harnessConfig.CacheTTLSeconds
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.harnessConfig.RateLimitEnabled {
		return &noOpRateLimiter{}
	}

	return adapters.NewTokenBucket(f.harnessConfig.RateLimitCapacity, f.harnessConfig.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.harnessConfig.EnableTracing {
		return &noOpTracer{}
	}

	return adapters.NewZerologTracer(f.logger)
}

// CreateStore returns the run store backed by the factory database, or a no-op store.
func (f *Factory) CreateStore() ports.RunStore {
	if f.db == nil {
		return &noOpStore{}
	}

	return adapters.NewLibSQLRunStore(f.db)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	guardrails := NewGuardrails()
	guardrails.SetBlockedWords(f.harnessConfig.BlockedWords)
	return guardrails
}

// CreatePolicy builds a run policy from the agent and model settings, clamping the iteration cap.
func (f *Factory) CreatePolicy(agent config.AgentConfig, llm config.LLMConfig) *Policy {
	policy := &Policy{
		MaxIterations:       agent.MaxIterations,
		MaxTime:             agent.MaxTime,
		TolerateParseErrors: agent.TolerateParseErrors,
		ToolTimeout:         agent.ToolTimeout,
		ModelTimeout:        agent.ModelTimeout,
		MaxNewTokens:        llm.MaxNewTokens,
		Temperature:         llm.Temperature,
	}

	if policy.MaxIterations < minIterations {
		policy.MaxIterations = minIterations
		f.logger.Warn().Int("max_iterations", agent.MaxIterations).Msg("MaxIterations clamped to minimum of 1")
	}
	if policy.MaxIterations > maxIterations {
		policy.MaxIterations = maxIterations
		f.logger.Warn().Int("max_iterations", agent.MaxIterations).Msg("MaxIterations clamped to maximum of 50")
	}
	if policy.MaxTime < 0 {
		policy.MaxTime = 0
	}

	return policy
}

// noOpCache implements Cache interface with no-op behavior for testing/disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpStore discards run history.
type noOpStore struct{}

func (s *noOpStore) StartRun(ctx context.Context, run ports.RunRecord) error { return nil }
func (s *noOpStore) AppendStep(ctx context.Context, runID string, step ports.StepRecord) error {
	return nil
}
func (s *noOpStore) FinishRun(ctx context.Context, run ports.RunRecord) error { return nil }
func (s *noOpStore) LoadSteps(ctx context.Context, runID string) ([]ports.StepRecord, error) {
	return nil, nil
}
func (s *noOpStore) RecentRuns(ctx context.Context, k int) ([]ports.RunRecord, error) {
	return nil, nil
}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.RunStore    = (*noOpStore)(nil)
)
