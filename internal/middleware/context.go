// Package middleware 提供 HTTP 中间件：请求 ID、恢复、超时、CORS、访问日志、管理员认证与幂等重放。
package middleware

import (
	"context"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// contextKey 用于在上下文中存取特定键，避免与外部键冲突。
type contextKey string

// 约定的上下文键集合。
const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyTraceID   contextKey = "trace_id"
	contextKeyUser      contextKey = "user"
)

// withRequestID 将请求 ID 写入上下文。
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext 从上下文中读取请求 ID（可能为空）。
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func withTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyTraceID, id)
}

// TraceIDFromContext 从上下文中读取链路追踪 ID（可能为空）。
func TraceIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(contextKeyTraceID).(string); ok {
		return s
	}
	return ""
}

// WithUser 将已认证的管理员写入上下文。
func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, u)
}

// UserFromContext 从请求上下文中获取当前管理员，未认证时为 nil。
func UserFromContext(ctx context.Context) *domain.User {
	if user, ok := ctx.Value(contextKeyUser).(*domain.User); ok {
		return user
	}
	return nil
}
