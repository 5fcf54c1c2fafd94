package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_MinInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "endpoint:/payments/deposit", 1, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !first.Allowed || first.Remaining != 0 {
		t.Fatalf("first call should consume the window: %+v", first)
	}

	second, err := limiter.Allow(ctx, "endpoint:/payments/deposit", 1, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if second.Allowed {
		t.Fatalf("second call inside the window must be rejected")
	}
	if !second.ResetAt.Equal(now.Add(500 * time.Millisecond)) {
		t.Fatalf("reset time wrong: %v", second.ResetAt)
	}

	now = now.Add(500 * time.Millisecond)
	third, err := limiter.Allow(ctx, "endpoint:/payments/deposit", 1, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !third.Allowed {
		t.Fatalf("call after the window elapsed must be allowed")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "endpoint:/a", 1, time.Second); !d.Allowed {
		t.Fatalf("first key rejected")
	}
	if d, _ := limiter.Allow(ctx, "endpoint:/b", 1, time.Second); !d.Allowed {
		t.Fatalf("unrelated key affected by another endpoint's window")
	}
}

func TestMemoryLimiter_CapacityEvictsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{
		Now:     func() time.Time { return now },
		MaxKeys: 2,
	})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "a", 1, time.Second); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if _, err := limiter.Allow(ctx, "b", 1, time.Second); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if _, err := limiter.Allow(ctx, "c", 1, time.Second); err == nil {
		t.Fatalf("expected capacity error with all windows live")
	}

	now = now.Add(time.Second)
	d, err := limiter.Allow(ctx, "c", 1, time.Second)
	if err != nil {
		t.Fatalf("allow after eviction: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("new key rejected after expired windows were evicted")
	}
}
