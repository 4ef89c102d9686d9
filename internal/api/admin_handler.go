package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// AdminServiceInterface 定义管理员认证服务接口
type AdminServiceInterface interface {
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
}

// AdminHandler 管理员认证处理器
type AdminHandler struct {
	admin  AdminServiceInterface
	logger *zap.Logger
}

// NewAdminHandler 创建管理员处理器
func NewAdminHandler(admin AdminServiceInterface, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{admin: admin, logger: logger}
}

// Login 管理员登录，成功后返回访问令牌
// POST /api/v1/admin/login
func (h *AdminHandler) Login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "username and password are required")
		return
	}

	out, err := h.admin.Login(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("admin login failed", zap.String("username", req.Username), zap.String("request_id", getRequestID(c)))
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, out)
}
