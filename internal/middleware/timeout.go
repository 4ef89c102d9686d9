package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MorseWayne/pharmacy_shop/internal/resp"
)

// Timeout 给请求上下文设置截止时间，处理器通过 HandleTimeout 输出统一的超时响应
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleTimeout is a helper to write unified timeout response when context expired
func HandleTimeout(w http.ResponseWriter, r *http.Request, err error) bool {
	ctx := r.Context()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		resp.Error(w, resp.HTTPStatusFromCode(resp.CodeTimeout), resp.CodeTimeout, "request timeout",
			RequestIDFromContext(ctx), TraceIDFromContext(ctx))
		return true
	}
	return false
}
