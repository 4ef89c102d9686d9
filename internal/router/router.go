// Package router 提供 HTTP 路由设置
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/api"
	"github.com/MorseWayne/pharmacy_shop/internal/cache"
	"github.com/MorseWayne/pharmacy_shop/internal/config"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
	mw "github.com/MorseWayne/pharmacy_shop/internal/middleware"
	"github.com/MorseWayne/pharmacy_shop/internal/resp"
)

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	OrderHandler   *api.OrderHandler
	ProductHandler *api.ProductHandler
	AdminHandler   *api.AdminHandler
	ReportHandler  *api.ReportHandler

	// TokenValidator 校验后台访问令牌
	TokenValidator mw.TokenValidator
	// Throttle 下单接口的突发限流，为 nil 时不启用
	Throttle limiter.Limiter
	// IdempotencyCache 保存下单接口的幂等响应，为 nil 时不启用
	IdempotencyCache cache.Cache
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine *gin.Engine
	cfg    *config.Config
	deps   *Dependencies
	logger *zap.Logger
}

// New 创建新的路由器实例
func New() Router {
	return &GinRouter{}
}

// Setup 设置路由。请求 ID、恢复、超时、CORS 与访问日志由外层的 net/http 中间件链负责。
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	switch cfg.App.Env {
	case "prod":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r.engine = gin.New()
	r.cfg = cfg
	r.deps = deps
	r.logger = lg

	r.engine.NoRoute(r.notFound)
	r.setupRoutes()

	return r.engine
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes() {
	r.engine.GET("/healthz", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		// 商品路由（公开）
		products := v1.Group("/products")
		{
			products.GET("", r.deps.ProductHandler.ListProducts)
			products.GET("/:id", r.deps.ProductHandler.GetProduct)
			products.GET("/:id/availability", r.deps.ProductHandler.CheckAvailability)
		}

		// 订单路由（公开）
		orders := v1.Group("/orders")
		{
			orders.POST("", append(r.submitOrderMiddleware(), r.deps.OrderHandler.SubmitOrder)...)
			orders.GET("/:id", r.deps.OrderHandler.GetOrder)
		}

		// 管理员登录（无需认证）
		v1.POST("/admin/login", r.deps.AdminHandler.Login)

		// 管理员路由（需要管理员令牌）
		admin := v1.Group("/admin")
		admin.Use(mw.AdminAuth(r.deps.TokenValidator, r.logger))
		{
			adminOrders := admin.Group("/orders")
			{
				adminOrders.GET("", r.deps.OrderHandler.ListOrders)
				adminOrders.POST("/manual", r.deps.OrderHandler.CreateManualOrder)
				adminOrders.PUT("/:id/status", r.deps.OrderHandler.UpdateOrderStatus)
			}

			adminProducts := admin.Group("/products")
			{
				adminProducts.GET("", r.deps.ProductHandler.ListAdminProducts)
				adminProducts.POST("", r.deps.ProductHandler.CreateProduct)
				adminProducts.PATCH("/:id", r.deps.ProductHandler.UpdateProduct)
				adminProducts.DELETE("/:id", r.deps.ProductHandler.DeleteProduct)
				adminProducts.POST("/:id/batches", r.deps.ProductHandler.AddBatch)
				adminProducts.PUT("/:id/batches/:index", r.deps.ProductHandler.UpdateBatch)
				adminProducts.DELETE("/:id/batches/:index", r.deps.ProductHandler.DeleteBatch)
			}

			reports := admin.Group("/reports")
			{
				reports.GET("/summary", r.deps.ReportHandler.Summary)
				reports.GET("/profits", r.deps.ReportHandler.Profits)
				reports.GET("/expiring", r.deps.ReportHandler.Expiring)
				reports.GET("/stock", r.deps.ReportHandler.Stock)
			}
		}
	}
}

// submitOrderMiddleware 下单接口前置的突发限流与幂等重放
func (r *GinRouter) submitOrderMiddleware() []gin.HandlerFunc {
	trustProxy := r.cfg.Order.TrustProxyHeaders
	var chain []gin.HandlerFunc
	if r.deps.Throttle != nil {
		chain = append(chain, limiter.OrderThrottleMiddleware(r.deps.Throttle, trustProxy))
	}
	if r.deps.IdempotencyCache != nil {
		chain = append(chain, mw.IdempotencyMiddleware(mw.IdempotencyConfig{
			Cache:     r.deps.IdempotencyCache,
			KeyPrefix: "idempotency:order:",
			KeyScope: func(c *gin.Context) string {
				return limiter.ClientOrigin(c.Request, trustProxy)
			},
			Logger: r.logger,
		}))
	}
	return chain
}

// healthCheck 健康检查处理器
func (r *GinRouter) healthCheck(c *gin.Context) {
	data := map[string]any{
		"status":  "ok",
		"version": r.cfg.App.Version,
	}
	resp.OK(c.Writer, &data, mw.RequestIDFromContext(c.Request.Context()), mw.TraceIDFromContext(c.Request.Context()))
}

func (r *GinRouter) notFound(c *gin.Context) {
	resp.Error(c.Writer, http.StatusNotFound, resp.CodeNotFound, "route not found",
		mw.RequestIDFromContext(c.Request.Context()), mw.TraceIDFromContext(c.Request.Context()))
}
