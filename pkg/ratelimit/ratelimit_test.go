package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_NoBlockWhenZeroRPS(t *testing.T) {
	limiter := NewLimiter(0, 0, 0.5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("limiter with 0 RPS should not block")
	}
	if limiter.Limit() != 0 {
		t.Errorf("expected unlimited limiter to report 0, got %v", limiter.Limit())
	}
}

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var limiter *Limiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter should not fail: %v", err)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10, 1, 0) // 100ms interval
	ctx := context.Background()

	// The first token is available immediately.
	_ = limiter.Wait(ctx)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	duration := time.Since(start)
	if duration < 50*time.Millisecond || duration > 200*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", duration)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(1, 1, 0) // 1 second interval
	_ = limiter.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("wait should return promptly after cancellation")
	}
}

func TestLimiter_JitterClamped(t *testing.T) {
	limiter := NewLimiter(100, 1, 5)
	if limiter.jitter != 1 {
		t.Errorf("expected jitter clamped to 1, got %v", limiter.jitter)
	}
	limiter = NewLimiter(100, 1, -1)
	if limiter.jitter != 0 {
		t.Errorf("expected jitter clamped to 0, got %v", limiter.jitter)
	}
}
