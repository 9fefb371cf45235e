package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

func fastPolicy(attempts int) *RetryPolicy {
	p := NewRetryPolicy(attempts, time.Millisecond, time.Millisecond)
	p.Jitter = 0
	return p
}

func TestRetryPolicy_RetriesTransientErrors(t *testing.T) {
	calls := 0
	var retried []int
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return core.ErrGatewayTransient(core.CodeGatewayRateLimited, "429")
		}
		return nil
	}, func(a RetryAttempt) {
		retried = append(retried, a.Number)
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("retried attempts = %v, want [1 2]", retried)
	}
}

func TestRetryPolicy_StopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := core.ErrGateway(core.CodeGatewayAuth, "bad key")
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	}, nil)
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	err := fastPolicy(2).Do(context.Background(), func(context.Context) error {
		return core.ErrGatewayTransient(core.CodeGatewayTimeout, "timeout")
	}, nil)
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want RetryExhaustedError", err)
	}
	if exhausted.Attempts != 2 {
		t.Errorf("attempts = %d", exhausted.Attempts)
	}
	if !core.IsCategory(err, core.ErrCatGateway) {
		t.Errorf("exhausted error should still unwrap to a gateway error")
	}
}

func TestRetryPolicy_SingleAttemptReturnsRawError(t *testing.T) {
	transient := core.ErrGatewayTransient(core.CodeGatewayTimeout, "timeout")
	err := fastPolicy(0).Do(context.Background(), func(context.Context) error { return transient }, nil)
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("a single attempt should not be reported as exhausted")
	}
	if !errors.Is(err, transient) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy(3).Do(ctx, func(context.Context) error { return nil }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := NewRetryPolicy(5, time.Second, 3*time.Second)
	p.Jitter = 0
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{40, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
