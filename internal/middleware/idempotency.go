package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/cache"
)

// HeaderIdempotencyKey 客户端重试时携带相同的键，服务端重放第一次的成功响应
const HeaderIdempotencyKey = "X-Idempotency-Key"

// IdempotencyConfig 幂等性中间件配置
type IdempotencyConfig struct {
	Cache     cache.Cache
	KeyPrefix string
	TTL       time.Duration
	// KeyScope 返回键的作用域（例如来源地址），避免不同客户端共用同一个键
	KeyScope func(*gin.Context) string
	Logger   *zap.Logger
}

// storedResponse 缓存中保存的成功响应
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware 幂等重放中间件。
// 请求未携带 X-Idempotency-Key 时直接放行；携带时，已缓存的 2xx 响应原样重放，
// 否则执行处理器并缓存其 2xx 响应。缓存不可用时按无键处理。
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "idempotency:"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || cfg.Cache == nil {
			c.Next()
			return
		}
		cacheKey := cfg.KeyPrefix + c.Request.Method + ":" + c.FullPath() + ":"
		if cfg.KeyScope != nil {
			cacheKey += cfg.KeyScope(c) + ":"
		}
		cacheKey += key

		ctx := c.Request.Context()
		var stored storedResponse
		err := cfg.Cache.Get(ctx, cacheKey, &stored)
		switch {
		case err == nil:
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		case !errors.Is(err, cache.ErrCacheMiss):
			cfg.Logger.Warn("idempotency cache lookup failed", zap.String("key", cacheKey), zap.Error(err))
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}
		stored = storedResponse{Status: status, ContentType: rec.Header().Get("Content-Type"), Body: rec.buf.Bytes()}
		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := cfg.Cache.Set(setCtx, cacheKey, stored, cfg.TTL); err != nil {
			cfg.Logger.Warn("idempotency cache store failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
}
