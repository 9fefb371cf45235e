package service

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenEmpty(t *testing.T) {
	r := NewRateLimiter(60, 2)
	base := time.Now()
	r.now = func() time.Time { return base }
	r.lastRefill = base

	if !r.TryAcquire() || !r.TryAcquire() {
		t.Fatal("burst of 2 should be available")
	}
	if r.TryAcquire() {
		t.Fatal("bucket should be empty")
	}

	base = base.Add(time.Second)
	if !r.TryAcquire() {
		t.Fatal("one token should refill after a second at 60/min")
	}
}

func TestRateLimiter_AcquireHonoursContext(t *testing.T) {
	r := NewRateLimiter(0.001, 1)
	if err := r.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Acquire(ctx); err == nil {
		t.Fatal("Acquire() should fail once the context expires")
	}
}

func TestRateLimiter_NeverExceedsBurst(t *testing.T) {
	r := NewRateLimiter(6000, 3)
	base := time.Now()
	r.now = func() time.Time { return base }
	r.lastRefill = base
	base = base.Add(time.Hour)
	if got := r.Available(); got != 3 {
		t.Errorf("Available() = %v, want 3", got)
	}
}
