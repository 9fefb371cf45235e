package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// RetryPolicy retries gateway calls that fail with a retryable DomainError
// (rate limits, timeouts, 5xx). Delays double from BaseDelay up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
}

// DefaultRetryPolicy is used when a gateway is wrapped without a policy.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second, 30*time.Second)
}

// NewRetryPolicy creates a policy with 20% jitter. Attempts below 1 become 1.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: max(maxAttempts, 1),
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Jitter:      0.2,
	}
}

// RetryAttempt describes a failed attempt that is about to be retried.
type RetryAttempt struct {
	Number int
	Err    error
	Delay  time.Duration
}

// Do calls fn until it succeeds, returns a non-retryable error or the
// attempts run out. onRetry, if set, sees every failure that is retried.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(RetryAttempt)) error {
	var err error
	for n := 1; ; n++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !core.IsRetryable(err) {
			return err
		}
		if n >= p.MaxAttempts {
			break
		}

		delay := p.Delay(n)
		if onRetry != nil {
			onRetry(RetryAttempt{Number: n, Err: err, Delay: delay})
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if p.MaxAttempts == 1 {
		return err
	}
	return &RetryExhaustedError{Attempts: p.MaxAttempts, LastErr: err}
}

// Delay is the wait after failed attempt n, jitter included.
func (p *RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay << min(n-1, 30)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return d
}

// RetryExhaustedError wraps the last error once every attempt has failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}
