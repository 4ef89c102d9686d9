// Package cache 提供缓存抽象，以及内存（LRU）、Redis 与空实现
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrCacheMiss 键不存在、已过期或缓存被禁用
var ErrCacheMiss = errors.New("cache miss")

// Cache 定义缓存操作接口
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryCache 进程内 LRU 缓存，容量满时淘汰最久未使用的键，每个键独立过期
type MemoryCache struct {
	data *lru.Cache[string, memoryCacheItem]
	now  func() time.Time
}

type memoryCacheItem struct {
	value      []byte
	expiration time.Time // 零值表示不过期
}

// NewMemoryCache 创建容量为 size 的内存缓存
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, memoryCacheItem](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &MemoryCache{data: c, now: time.Now}, nil
}

func (m *MemoryCache) live(key string) (memoryCacheItem, bool) {
	item, ok := m.data.Get(key)
	if !ok {
		return memoryCacheItem{}, false
	}
	if !item.expiration.IsZero() && m.now().After(item.expiration) {
		m.data.Remove(key)
		return memoryCacheItem{}, false
	}
	return item, true
}

// Get 获取缓存值
func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	item, ok := m.live(key)
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(item.value, dest)
}

// Set 设置缓存值，expiration 为 0 表示不过期
func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	item := memoryCacheItem{value: data}
	if expiration > 0 {
		item.expiration = m.now().Add(expiration)
	}
	m.data.Add(key, item)
	return nil
}

// Del 删除缓存值
func (m *MemoryCache) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.data.Remove(key)
	}
	return nil
}

// Exists 检查键是否存在
func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.live(key)
	return ok, nil
}

// Ping 检查连接
func (m *MemoryCache) Ping(context.Context) error {
	return nil
}

// Close 清空缓存
func (m *MemoryCache) Close() error {
	m.data.Purge()
	return nil
}

// NullCache 空缓存实现（禁用缓存时使用）
type NullCache struct{}

// NewNullCache 创建空缓存实例
func NewNullCache() *NullCache {
	return &NullCache{}
}

func (n *NullCache) Get(context.Context, string, interface{}) error {
	return ErrCacheMiss
}

func (n *NullCache) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (n *NullCache) Del(context.Context, ...string) error {
	return nil
}

func (n *NullCache) Exists(context.Context, string) (bool, error) {
	return false, nil
}

func (n *NullCache) Ping(context.Context) error {
	return nil
}

func (n *NullCache) Close() error {
	return nil
}
