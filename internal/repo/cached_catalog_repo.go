package repo

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/cache"
	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// CatalogCacheKey 目录快照的缓存键
const CatalogCacheKey = "pharmacy:catalog"

// CachedCatalogRepository 带缓存的目录仓储。
// 缓存中保存序列化后的快照，每次读取得到独立副本，调用方可以放心修改。
// 保存后既无法清除也无法覆盖缓存时，标记为 stale：之后的读取绕过缓存直接回源，
// 直到成功回填为止，缓存中的旧快照不会再被读到。
type CachedCatalogRepository struct {
	repo   CatalogRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
	stale  atomic.Bool
}

// NewCachedCatalogRepository 创建带缓存的目录仓储
func NewCachedCatalogRepository(repo CatalogRepository, c cache.Cache, ttl time.Duration, logger *zap.Logger) *CachedCatalogRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedCatalogRepository{repo: repo, cache: c, ttl: ttl, logger: logger}
}

// LoadCatalog 优先读缓存，未命中时回源并回填
func (r *CachedCatalogRepository) LoadCatalog(ctx context.Context) (domain.Catalog, error) {
	if !r.stale.Load() {
		var cached domain.Catalog
		err := r.cache.Get(ctx, CatalogCacheKey, &cached)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn("catalog cache read failed", zap.Error(err))
		}
	}

	// 缓存未命中，回源读取
	catalog, err := r.repo.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, CatalogCacheKey, catalog, r.ttl); err != nil {
		r.logger.Warn("catalog cache write failed", zap.Error(err))
		return catalog, nil
	}
	if r.stale.CompareAndSwap(true, false) {
		r.logger.Info("catalog cache repaired")
	}
	return catalog, nil
}

// SaveCatalog 写入底层仓储后清除缓存；清除失败时改为用新快照覆盖缓存，
// 两者都失败则标记 stale，之后的读取绕过缓存。
func (r *CachedCatalogRepository) SaveCatalog(ctx context.Context, catalog domain.Catalog) error {
	if err := r.repo.SaveCatalog(ctx, catalog); err != nil {
		return err
	}
	delErr := r.cache.Del(ctx, CatalogCacheKey)
	if delErr == nil {
		return nil
	}
	if err := r.cache.Set(ctx, CatalogCacheKey, catalog, r.ttl); err != nil {
		r.stale.Store(true)
		r.logger.Error("catalog cache invalidation failed, bypassing cache until repaired",
			zap.Error(delErr), zap.NamedError("write_through", err))
		return nil
	}
	r.logger.Warn("catalog cache invalidation failed, wrote snapshot through", zap.Error(delErr))
	return nil
}
