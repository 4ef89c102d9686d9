// Package api 提供药房订单履约的 HTTP API 处理器
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	mw "github.com/MorseWayne/pharmacy_shop/internal/middleware"
	"github.com/MorseWayne/pharmacy_shop/internal/resp"
	"github.com/MorseWayne/pharmacy_shop/internal/service"
)

// StockErrorData 库存不足时随错误返回的明细
type StockErrorData struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// RateLimitData 限流时随错误返回的剩余等待分钟数
type RateLimitData struct {
	MinutesRemaining int `json:"minutes_remaining"`
}

// getRequestID 获取请求ID
func getRequestID(c *gin.Context) string {
	return mw.RequestIDFromContext(c.Request.Context())
}

// getTraceID 获取追踪ID
func getTraceID(c *gin.Context) string {
	return mw.TraceIDFromContext(c.Request.Context())
}

func writeOK[T any](c *gin.Context, data T) {
	resp.OK(c.Writer, data, getRequestID(c), getTraceID(c))
}

func writeCreated[T any](c *gin.Context, data T) {
	resp.WriteJSON(c.Writer, http.StatusCreated, resp.CodeOK, "created", data, getRequestID(c), getTraceID(c))
}

func writeBadRequest(c *gin.Context, message string) {
	resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, message, getRequestID(c), getTraceID(c))
}

// writeError 把业务错误映射为 HTTP 状态码与业务码
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	reqID, traceID := getRequestID(c), getTraceID(c)

	var (
		rateErr  *domain.RateLimitedError
		stockErr *domain.InsufficientStockError
	)
	switch {
	case errors.As(err, &rateErr):
		c.Header("Retry-After", strconv.Itoa(rateErr.MinutesRemaining*60))
		resp.WriteJSON(c.Writer, http.StatusTooManyRequests, resp.CodeTooManyOrders, err.Error(),
			RateLimitData{MinutesRemaining: rateErr.MinutesRemaining}, reqID, traceID)
	case errors.As(err, &stockErr):
		resp.WriteJSON(c.Writer, http.StatusConflict, resp.CodeConflict, err.Error(),
			StockErrorData{ProductID: stockErr.ProductID, Available: stockErr.Available, Requested: stockErr.Requested}, reqID, traceID)
	case errors.Is(err, domain.ErrInvalidInput):
		resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, traceID)
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrOrderNotFound):
		resp.Error(c.Writer, http.StatusNotFound, resp.CodeNotFound, err.Error(), reqID, traceID)
	case errors.Is(err, domain.ErrInvalidTransition):
		resp.Error(c.Writer, http.StatusConflict, resp.CodeConflict, err.Error(), reqID, traceID)
	case errors.Is(err, service.ErrInvalidCredentials):
		resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, err.Error(), reqID, traceID)
	case mw.HandleTimeout(c.Writer, c.Request, err):
		logger.Warn("request timed out", zap.String("path", c.FullPath()), zap.String("request_id", reqID))
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", reqID),
			zap.Error(err))
		resp.Error(c.Writer, http.StatusInternalServerError, resp.CodeInternalError, "internal server error", reqID, traceID)
	}
}
