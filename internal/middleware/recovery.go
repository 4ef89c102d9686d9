package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/resp"
)

// Recovery captures panics and responds with a structured error.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					ctx := r.Context()
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestIDFromContext(ctx)),
						zap.ByteString("stack", debug.Stack()))
					resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "internal server error",
						RequestIDFromContext(ctx), TraceIDFromContext(ctx))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
