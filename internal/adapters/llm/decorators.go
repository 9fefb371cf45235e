package llm

import (
	"context"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
)

// RetryingGateway retries retryable gateway errors with backoff. Errors that
// are not marked retryable, such as auth failures, are returned at once.
type RetryingGateway struct {
	next   core.Gateway
	policy *service.RetryPolicy
	logger *logging.Logger
}

// WithRetry wraps next with policy.
func WithRetry(next core.Gateway, policy *service.RetryPolicy, logger *logging.Logger) *RetryingGateway {
	if policy == nil {
		policy = service.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RetryingGateway{next: next, policy: policy, logger: logger}
}

// Name implements core.Gateway.
func (g *RetryingGateway) Name() string { return g.next.Name() }

// Invoke implements core.Gateway.
func (g *RetryingGateway) Invoke(ctx context.Context, req core.GatewayRequest) (*core.GatewayResponse, error) {
	var resp *core.GatewayResponse
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.next.Invoke(ctx, req)
		return err
	}, func(a service.RetryAttempt) {
		g.logger.Warn("gateway call failed, retrying",
			"gateway", g.next.Name(),
			"stage", req.Stage,
			"task", req.Task,
			"attempt", a.Number,
			"delay", a.Delay,
			"error", a.Err,
		)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// RateLimitedGateway takes a token from a shared bucket before each call.
type RateLimitedGateway struct {
	next    core.Gateway
	limiter *service.RateLimiter
}

// WithRateLimit wraps next with limiter.
func WithRateLimit(next core.Gateway, limiter *service.RateLimiter) *RateLimitedGateway {
	return &RateLimitedGateway{next: next, limiter: limiter}
}

// Name implements core.Gateway.
func (g *RateLimitedGateway) Name() string { return g.next.Name() }

// Invoke implements core.Gateway.
func (g *RateLimitedGateway) Invoke(ctx context.Context, req core.GatewayRequest) (*core.GatewayResponse, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, core.ErrGateway(core.CodeGatewayRateLimited, "waiting for rate limiter").WithCause(err)
	}
	return g.next.Invoke(ctx, req)
}
