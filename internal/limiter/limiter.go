// Package limiter 提供两类限流：
// 按来源限制下单间隔的 OrderIntervalLimiter，以及挡在 HTTP 入口的令牌桶突发限流。
package limiter

import (
	"context"
	"time"
)

// LimitResult 限流结果
type LimitResult struct {
	Allowed    bool          `json:"allowed"`     // 是否允许通过
	Remaining  int64         `json:"remaining"`   // 剩余配额
	RetryAfter time.Duration `json:"retry_after"` // 建议重试时间
}

// Limiter 请求级限流器接口
type Limiter interface {
	// Allow 检查是否允许请求通过
	Allow(ctx context.Context, key string) (*LimitResult, error)

	// Reset 重置限流状态
	Reset(ctx context.Context, key string) error
}
