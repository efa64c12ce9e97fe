package harness

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// LimitedProvider gates every model call, including the query checker's, through a rate limiter.
type LimitedProvider struct {
	provider ports.Provider
	limiter  ports.RateLimiter
	key      string
}

// NewLimitedProvider wraps provider so that calls acquire a permit for key first.
func NewLimitedProvider(provider ports.Provider, limiter ports.RateLimiter, key string) *LimitedProvider {
	return &LimitedProvider{provider: provider, limiter: limiter, key: key}
}

// Complete acquires a permit and forwards the call.
func (p *LimitedProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	release, err := p.limiter.Acquire(ctx, p.key)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer release()

	return p.provider.Complete(ctx, in, opts)
}

var _ ports.Provider = (*LimitedProvider)(nil)
