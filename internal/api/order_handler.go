package api

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
)

// OrderServiceInterface 定义订单服务接口
type OrderServiceInterface interface {
	SubmitOrder(ctx context.Context, req *domain.SubmitOrderRequest, origin string) (*domain.Order, error)
	CreateManualOrder(ctx context.Context, req *domain.ManualOrderRequest) (*domain.Order, error)
	SetOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]*domain.Order, error)
}

// OrderHandler 订单API处理器
type OrderHandler struct {
	orders     OrderServiceInterface
	trustProxy bool
	logger     *zap.Logger
}

// NewOrderHandler 创建订单处理器。trustProxy 为 true 时以 X-Forwarded-For 第一跳作为下单来源。
func NewOrderHandler(orders OrderServiceInterface, trustProxy bool, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, trustProxy: trustProxy, logger: logger}
}

// SubmitOrder 顾客结算
// POST /api/v1/orders
func (h *OrderHandler) SubmitOrder(c *gin.Context) {
	var req domain.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid submit order body", zap.Error(err), zap.String("request_id", getRequestID(c)))
		writeBadRequest(c, "invalid request body")
		return
	}

	origin := limiter.ClientOrigin(c.Request, h.trustProxy)
	order, err := h.orders.SubmitOrder(c.Request.Context(), &req, origin)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, order)
}

// GetOrder 按订单号查询订单，供顾客跟踪
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		writeBadRequest(c, "order id is required")
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, order)
}

// ListOrders 后台订单列表，按存储顺序
// GET /api/v1/admin/orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	writeOK(c, orders)
}

// UpdateOrderStatus 修改订单状态，进入取消状态时回补库存
// PUT /api/v1/admin/orders/:id/status
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	var req domain.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "status is required")
		return
	}
	next, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	order, err := h.orders.SetOrderStatus(c.Request.Context(), c.Param("id"), next)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, order)
}

// CreateManualOrder 门店手工录单，直接完成，不受来源限流
// POST /api/v1/admin/orders/manual
func (h *OrderHandler) CreateManualOrder(c *gin.Context) {
	var req domain.ManualOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	order, err := h.orders.CreateManualOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, order)
}
