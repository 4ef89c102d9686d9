package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// RequestID 确保每个请求都有请求 ID：
// 1) 优先读取请求头 X-Request-ID，为空则生成 UUID；
// 2) X-Trace-ID 缺省时沿用请求 ID；
// 3) 两者都写入响应头与请求上下文。
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		tid := strings.TrimSpace(r.Header.Get(HeaderTraceID))
		if tid == "" {
			tid = rid
		}
		w.Header().Set(HeaderRequestID, rid)
		w.Header().Set(HeaderTraceID, tid)

		ctx := withTraceID(withRequestID(r.Context(), rid), tid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
