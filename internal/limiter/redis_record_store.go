package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecordStore 把下单记录保存为 Redis 字符串键。
// retention 为 0 时键不过期；大于限流间隔的 retention 不影响判定结果。
type RedisRecordStore struct {
	client    redis.Cmdable
	keyPrefix string
	retention time.Duration
}

// NewRedisRecordStore 创建 Redis 记录存储
func NewRedisRecordStore(client redis.Cmdable, keyPrefix string, retention time.Duration) *RedisRecordStore {
	if keyPrefix == "" {
		keyPrefix = "pharmacy:order_rate:"
	}
	return &RedisRecordStore{client: client, keyPrefix: keyPrefix, retention: retention}
}

func (s *RedisRecordStore) Get(ctx context.Context, origin string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.keyPrefix+origin).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", origin, err)
	}
	return val, true, nil
}

func (s *RedisRecordStore) Put(ctx context.Context, origin, raw string) error {
	if err := s.client.Set(ctx, s.keyPrefix+origin, raw, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", origin, err)
	}
	return nil
}
