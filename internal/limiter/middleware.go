package limiter

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/pharmacy_shop/internal/resp"
)

// MiddlewareConfig 突发限流中间件配置
type MiddlewareConfig struct {
	Limiter Limiter
	// KeyOf 计算限流 key，缺省按对端地址
	KeyOf func(*gin.Context) string
	// Skip 返回 true 的请求不计数
	Skip func(*gin.Context) bool
	// CheckTimeout 单次查询限流器的超时，缺省 5s
	CheckTimeout time.Duration
	// ExposeHeaders 是否写出 X-RateLimit-Remaining 与 Retry-After
	ExposeHeaders bool
}

const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerRetryAfter = "Retry-After"
)

// ClientOrigin 解析请求来源：信任代理时取 X-Forwarded-For 的第一跳，否则取对端地址
func ClientOrigin(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// OriginKeyGenerator 基于来源地址生成 key
func OriginKeyGenerator(prefix string, trustProxy bool) func(*gin.Context) string {
	return func(c *gin.Context) string {
		return prefix + ClientOrigin(c.Request, trustProxy)
	}
}

// RateLimitMiddleware 按 key 做突发限流。限流器出错时返回 500，被拒绝时返回 429。
func RateLimitMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	if cfg.KeyOf == nil {
		cfg.KeyOf = OriginKeyGenerator("global:", false)
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}

	return func(c *gin.Context) {
		if cfg.Skip != nil && cfg.Skip(c) {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.CheckTimeout)
		result, err := cfg.Limiter.Allow(ctx, cfg.KeyOf(c))
		cancel()
		if err != nil {
			resp.Error(c.Writer, http.StatusInternalServerError, resp.CodeInternalError,
				"rate limiter unavailable", requestID(c), "")
			c.Abort()
			return
		}

		if cfg.ExposeHeaders {
			c.Header(headerRemaining, strconv.FormatInt(result.Remaining, 10))
			if result.RetryAfter > 0 {
				c.Header(headerRetryAfter, strconv.FormatInt(ceilSeconds(result.RetryAfter), 10))
			}
		}
		if !result.Allowed {
			resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeTooManyOrders,
				"too many requests, please retry later", requestID(c), "")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ceilSeconds 向上取整到秒
func ceilSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// OrderThrottleMiddleware 下单接口的突发限流，按来源地址计数
func OrderThrottleMiddleware(limiter Limiter, trustProxy bool) gin.HandlerFunc {
	return RateLimitMiddleware(MiddlewareConfig{
		Limiter:       limiter,
		KeyOf:         OriginKeyGenerator("order:", trustProxy),
		ExposeHeaders: true,
	})
}

func requestID(c *gin.Context) string {
	return c.Writer.Header().Get("X-Request-ID")
}
