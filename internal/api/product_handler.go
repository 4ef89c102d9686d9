package api

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// CatalogServiceInterface 定义商品目录服务接口
type CatalogServiceInterface interface {
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CheckAvailability(ctx context.Context, id string, qty int) (int, error)
	CreateProduct(ctx context.Context, req *domain.CreateProductRequest) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id string, req *domain.UpdateProductRequest) (*domain.Product, error)
	UpdateBatch(ctx context.Context, id string, index int, req *domain.UpdateBatchRequest) (*domain.Product, error)
	AddBatch(ctx context.Context, id string) (*domain.Product, error)
	DeleteBatch(ctx context.Context, id string, index int) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

// ProductView 顾客可见的商品信息，不包含进价与批次明细
type ProductView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Image         string          `json:"image"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock"`
	NearestExpiry string          `json:"nearest_expiry,omitempty"`
}

func newProductView(p *domain.Product) ProductView {
	v := ProductView{ID: p.ID, Name: p.Name, Image: p.Image, Price: p.SellPrice(), Stock: p.TotalStock()}
	if exp := p.NearestExpiry(); exp != nil {
		v.NearestExpiry = exp.Format(domain.DateLayout)
	}
	return v
}

// AvailabilityResponse 加购前的库存预检查结果
type AvailabilityResponse struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	OK        bool   `json:"ok"`
}

// ProductHandler 商品API处理器
type ProductHandler struct {
	catalog CatalogServiceInterface
	logger  *zap.Logger
}

// NewProductHandler 创建商品处理器
func NewProductHandler(catalog CatalogServiceInterface, logger *zap.Logger) *ProductHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductHandler{catalog: catalog, logger: logger}
}

// ListProducts 顾客商品列表
// GET /api/v1/products
func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, newProductView(p))
	}
	writeOK(c, views)
}

// GetProduct 顾客商品详情
// GET /api/v1/products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	p, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, newProductView(p))
}

// CheckAvailability 加入购物车前检查库存，库存不足时返回 409 并带上可用数量
// GET /api/v1/products/:id/availability?qty=N
func (h *ProductHandler) CheckAvailability(c *gin.Context) {
	qty, err := strconv.Atoi(c.DefaultQuery("qty", "1"))
	if err != nil {
		writeBadRequest(c, "qty must be an integer")
		return
	}
	id := c.Param("id")
	available, err := h.catalog.CheckAvailability(c.Request.Context(), id, qty)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, AvailabilityResponse{ProductID: id, Requested: qty, Available: available, OK: true})
}

// ListAdminProducts 后台商品列表，包含全部批次
// GET /api/v1/admin/products
func (h *ProductHandler) ListAdminProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, products)
}

// CreateProduct 新建商品
// POST /api/v1/admin/products
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req domain.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, p)
}

// UpdateProduct 修改商品名称或图片
// PATCH /api/v1/admin/products/:id
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	var req domain.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	p, err := h.catalog.UpdateProduct(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, p)
}

// DeleteProduct 删除商品
// DELETE /api/v1/admin/products/:id
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, gin.H{"deleted": c.Param("id")})
}

// AddBatch 追加空批次
// POST /api/v1/admin/products/:id/batches
func (h *ProductHandler) AddBatch(c *gin.Context) {
	p, err := h.catalog.AddBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, p)
}

// UpdateBatch 覆盖指定下标的批次
// PUT /api/v1/admin/products/:id/batches/:index
func (h *ProductHandler) UpdateBatch(c *gin.Context) {
	index, ok := h.batchIndex(c)
	if !ok {
		return
	}
	var req domain.UpdateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	p, err := h.catalog.UpdateBatch(c.Request.Context(), c.Param("id"), index, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, p)
}

// DeleteBatch 删除指定下标的批次
// DELETE /api/v1/admin/products/:id/batches/:index
func (h *ProductHandler) DeleteBatch(c *gin.Context) {
	index, ok := h.batchIndex(c)
	if !ok {
		return
	}
	p, err := h.catalog.DeleteBatch(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, p)
}

func (h *ProductHandler) batchIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeBadRequest(c, "batch index must be an integer")
		return 0, false
	}
	return index, true
}
