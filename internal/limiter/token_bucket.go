package limiter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter 进程内按 key 的令牌桶，基于 x/time/rate。
// 长时间未访问的 key 由 janitor 清理。
type TokenBucketLimiter struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter 创建令牌桶限流器
func NewTokenBucketLimiter(rps float64, burst int, idleTTL time.Duration) *TokenBucketLimiter {
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &TokenBucketLimiter{
		entries: make(map[string]*bucketEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

func (l *TokenBucketLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.entries[key] = &bucketEntry{lim: lim, lastSeen: now}
	return lim
}

// Allow 消耗一个令牌
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (*LimitResult, error) {
	now := l.now()
	lim := l.get(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &LimitResult{Allowed: false}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &LimitResult{Allowed: false, RetryAfter: delay}, nil
	}
	remaining := int64(math.Floor(lim.TokensAt(now)))
	return &LimitResult{Allowed: true, Remaining: max(remaining, 0)}, nil
}

// Reset 丢弃 key 的令牌桶
func (l *TokenBucketLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
	return nil
}

// Cleanup 清理空闲超过 idleTTL 的 key
func (l *TokenBucketLimiter) Cleanup() {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// StartJanitor 周期性清理空闲 key，ctx 取消时退出
func (l *TokenBucketLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}

// Len 当前跟踪的 key 数量
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
