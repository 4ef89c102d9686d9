package limiter

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketLimiter_Burst(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewTokenBucketLimiter(1, 3, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should pass within burst", i)
		}
	}

	res, _ := l.Allow(ctx, "k")
	if res.Allowed {
		t.Fatal("fourth request should be throttled")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected positive retry after, got %v", res.RetryAfter)
	}

	// 其他 key 不受影响
	if res, _ := l.Allow(ctx, "other"); !res.Allowed {
		t.Fatal("independent key should pass")
	}

	// 一秒后补充一个令牌
	now = now.Add(time.Second)
	if res, _ := l.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("token should be replenished after one second")
	}
}

func TestTokenBucketLimiter_ResetAndCleanup(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewTokenBucketLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = l.Allow(ctx, "a")
	if res, _ := l.Allow(ctx, "a"); res.Allowed {
		t.Fatal("second request should be throttled")
	}
	_ = l.Reset(ctx, "a")
	if res, _ := l.Allow(ctx, "a"); !res.Allowed {
		t.Fatal("reset should restore the bucket")
	}

	_, _ = l.Allow(ctx, "b")
	if l.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", l.Len())
	}
	now = now.Add(2 * time.Minute)
	l.Cleanup()
	if l.Len() != 0 {
		t.Fatalf("idle keys should be removed, %d left", l.Len())
	}
}
