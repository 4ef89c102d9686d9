package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/resp"
	"github.com/MorseWayne/pharmacy_shop/internal/service"
)

// TokenValidator 校验访问令牌
type TokenValidator interface {
	ValidateToken(tokenString string) (*service.Claims, error)
}

// AdminAuth 管理员认证中间件
// 校验 Authorization: Bearer 令牌，要求管理员角色，并把管理员身份注入请求上下文
func AdminAuth(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		reqID, traceID := RequestIDFromContext(ctx), TraceIDFromContext(ctx)
		unauthorized := func(msg string) {
			resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, msg, reqID, traceID)
			c.Abort()
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Warn("missing authorization header", zap.String("request_id", reqID))
			unauthorized("authorization header required")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			logger.Warn("invalid authorization header format", zap.String("request_id", reqID))
			unauthorized("invalid authorization header format")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		if tokenString == "" {
			unauthorized("token required")
			return
		}

		claims, err := validator.ValidateToken(tokenString)
		if err != nil {
			logger.Warn("token validation failed", zap.String("request_id", reqID), zap.Error(err))
			switch {
			case errors.Is(err, service.ErrTokenExpired):
				unauthorized("token expired")
			case errors.Is(err, service.ErrTokenNotReady):
				unauthorized("token not ready")
			default:
				unauthorized("invalid token")
			}
			return
		}

		user := claims.User()
		if !user.IsAdmin() {
			logger.Warn("insufficient permissions",
				zap.String("request_id", reqID),
				zap.String("username", user.Username),
				zap.String("role", string(user.Role)))
			resp.Error(c.Writer, http.StatusForbidden, resp.CodeUnauthorized, "insufficient permissions", reqID, traceID)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithUser(ctx, user))
		c.Next()
	}
}
