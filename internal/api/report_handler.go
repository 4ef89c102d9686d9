package api

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/service"
)

// ReportServiceInterface 定义报表服务接口
type ReportServiceInterface interface {
	Summary(ctx context.Context) (*service.Summary, error)
	Profits(ctx context.Context) (*service.ProfitReport, error)
	Expiring(ctx context.Context, days int) ([]service.ExpiringBatch, error)
	StockOverview(ctx context.Context) ([]service.StockItem, error)
}

// ReportHandler 后台报表处理器
type ReportHandler struct {
	reports ReportServiceInterface
	logger  *zap.Logger
}

// NewReportHandler 创建报表处理器
func NewReportHandler(reports ReportServiceInterface, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{reports: reports, logger: logger}
}

// Summary GET /api/v1/admin/reports/summary
func (h *ReportHandler) Summary(c *gin.Context) {
	out, err := h.reports.Summary(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, out)
}

// Profits GET /api/v1/admin/reports/profits
func (h *ReportHandler) Profits(c *gin.Context) {
	out, err := h.reports.Profits(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, out)
}

// Expiring GET /api/v1/admin/reports/expiring?days=30
func (h *ReportHandler) Expiring(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(service.ExpiryWarningDays)))
	if err != nil || days < 0 {
		writeBadRequest(c, "days must be a non-negative integer")
		return
	}
	out, err := h.reports.Expiring(c.Request.Context(), days)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, out)
}

// Stock GET /api/v1/admin/reports/stock
func (h *ReportHandler) Stock(c *gin.Context) {
	out, err := h.reports.StockOverview(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, out)
}
