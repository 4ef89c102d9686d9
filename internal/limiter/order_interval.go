package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimestampLayout 下单记录的时间格式
const TimestampLayout = "2006-01-02 15:04:05"

// Decision 下单检查结果
type Decision struct {
	Allowed          bool
	MinutesRemaining int
}

// RecordStore 保存每个来源最近一次下单时间的原始字符串。
// 找不到记录时 found 为 false，不视为错误。
type RecordStore interface {
	Get(ctx context.Context, origin string) (raw string, found bool, err error)
	Put(ctx context.Context, origin, raw string) error
}

// OrderIntervalLimiter 同一来源两次成功下单之间至少间隔 interval。
// 记录损坏（无法解析）时视为无记录，放行并告警。
type OrderIntervalLimiter struct {
	store    RecordStore
	interval time.Duration
	loc      *time.Location
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewOrderIntervalLimiter 创建下单间隔限流器，interval 为 0 时取 1 小时
func NewOrderIntervalLimiter(store RecordStore, interval time.Duration, logger *zap.Logger) *OrderIntervalLimiter {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderIntervalLimiter{
		store:    store,
		interval: interval,
		loc:      time.Local,
		logger:   logger,
	}
}

// Interval 最小下单间隔
func (l *OrderIntervalLimiter) Interval() time.Duration {
	return l.interval
}

// CanPlaceOrder 检查来源当前能否下单。
// 被拒绝时 MinutesRemaining 为剩余时间的分钟数（截断取整）。
func (l *OrderIntervalLimiter) CanPlaceOrder(ctx context.Context, origin string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok, err := l.lastOrderTime(ctx, origin)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Allowed: true}, nil
	}

	elapsed := now.Sub(last)
	if elapsed >= l.interval {
		return Decision{Allowed: true}, nil
	}
	return Decision{MinutesRemaining: int((l.interval - elapsed).Minutes())}, nil
}

// RecordOrder 无条件覆盖来源的最近下单时间
func (l *OrderIntervalLimiter) RecordOrder(ctx context.Context, origin string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Put(ctx, origin, now.In(l.loc).Format(TimestampLayout)); err != nil {
		return fmt.Errorf("record order for %s: %w", origin, err)
	}
	return nil
}

func (l *OrderIntervalLimiter) lastOrderTime(ctx context.Context, origin string) (time.Time, bool, error) {
	raw, found, err := l.store.Get(ctx, origin)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			l.logger.Warn("corrupt rate limit table, treating origin as new",
				zap.String("origin", origin), zap.Error(err))
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("load rate limit record for %s: %w", origin, err)
	}
	if !found || strings.TrimSpace(raw) == "" {
		return time.Time{}, false, nil
	}

	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(raw), l.loc)
	if err != nil {
		l.logger.Warn("unparseable rate limit record, treating origin as new",
			zap.String("origin", origin), zap.String("raw", raw), zap.Error(err))
		return time.Time{}, false, nil
	}
	return t, true, nil
}
