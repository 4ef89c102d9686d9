package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// CatalogService 商品目录的查询与后台维护，写操作与下单共用同一事务边界
type CatalogService struct {
	inv    *Inventory
	logger *zap.Logger
}

// NewCatalogService 创建目录服务
func NewCatalogService(inv *Inventory, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{inv: inv, logger: logger}
}

// ListProducts 按商品 ID 排序返回全部商品
func (s *CatalogService) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	err := s.inv.View(ctx, func(tx *Tx) error {
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		out = make([]*domain.Product, 0, len(catalog))
		for _, id := range catalog.SortedIDs() {
			out = append(out, catalog[id])
		}
		return nil
	})
	return out, err
}

// GetProduct 查询单个商品
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p *domain.Product
	err := s.inv.View(ctx, func(tx *Tx) error {
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		p, err = catalog.Get(id)
		return err
	})
	return p, err
}

// CheckAvailability 加入购物车前的库存预检查，返回当前可用数量
func (s *CatalogService) CheckAvailability(ctx context.Context, id string, qty int) (int, error) {
	if qty <= 0 {
		return 0, &domain.InvalidInputError{Field: "qty", Reason: "must be positive"}
	}
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	available := p.TotalStock()
	if qty > available {
		return available, &domain.InsufficientStockError{ProductID: id, Available: available, Requested: qty}
	}
	return available, nil
}

// CreateProduct 新建商品，ID 为现有数值 ID 的最大值加一
func (s *CatalogService) CreateProduct(ctx context.Context, req *domain.CreateProductRequest) (*domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.InvalidInputError{Field: "name", Reason: "is required"}
	}
	b, err := newBatch(req.SellPrice, req.PurchasePrice, req.Stock, req.ExpiryDate)
	if err != nil {
		return nil, err
	}

	var p *domain.Product
	err = s.inv.Update(ctx, func(tx *Tx) error {
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		p = &domain.Product{
			ID:      catalog.NextID(),
			Name:    name,
			Image:   strings.TrimSpace(req.Image),
			Batches: domain.Batches{b},
		}
		catalog[p.ID] = p
		tx.MarkCatalogDirty()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("product created", zap.String("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// UpdateProduct 修改商品名称或图片
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, req *domain.UpdateProductRequest) (*domain.Product, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, &domain.InvalidInputError{Field: "name", Reason: "must not be empty"}
	}
	return s.mutateProduct(ctx, id, func(p *domain.Product) error {
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Image != nil {
			p.Image = strings.TrimSpace(*req.Image)
		}
		return nil
	})
}

// UpdateBatch 覆盖指定下标的批次
func (s *CatalogService) UpdateBatch(ctx context.Context, id string, index int, req *domain.UpdateBatchRequest) (*domain.Product, error) {
	b, err := newBatch(req.SellPrice, req.PurchasePrice, req.Quantity, req.ExpiryDate)
	if err != nil {
		return nil, err
	}
	return s.mutateProduct(ctx, id, func(p *domain.Product) error {
		if err := checkIndex(p, index); err != nil {
			return err
		}
		p.Batches[index] = b
		return nil
	})
}

// AddBatch 追加一个数量为 0、无效期的空批次
func (s *CatalogService) AddBatch(ctx context.Context, id string) (*domain.Product, error) {
	return s.mutateProduct(ctx, id, func(p *domain.Product) error {
		p.Batches = append(p.Batches, domain.Batch{
			SellPrice:     decimal.Zero,
			PurchasePrice: decimal.NewNullDecimal(decimal.Zero),
		})
		return nil
	})
}

// DeleteBatch 删除指定下标的批次
func (s *CatalogService) DeleteBatch(ctx context.Context, id string, index int) (*domain.Product, error) {
	return s.mutateProduct(ctx, id, func(p *domain.Product) error {
		if err := checkIndex(p, index); err != nil {
			return err
		}
		p.Batches = append(p.Batches[:index], p.Batches[index+1:]...)
		return nil
	})
}

// DeleteProduct 从目录中删除商品，历史订单不受影响
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	err := s.inv.Update(ctx, func(tx *Tx) error {
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		if _, err := catalog.Get(id); err != nil {
			return err
		}
		delete(catalog, id)
		tx.MarkCatalogDirty()
		return nil
	})
	if err == nil {
		s.logger.Info("product deleted", zap.String("product_id", id))
	}
	return err
}

func (s *CatalogService) mutateProduct(ctx context.Context, id string, fn func(p *domain.Product) error) (*domain.Product, error) {
	var p *domain.Product
	err := s.inv.Update(ctx, func(tx *Tx) error {
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		p, err = catalog.Get(id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		tx.MarkCatalogDirty()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func checkIndex(p *domain.Product, index int) error {
	if index < 0 || index >= len(p.Batches) {
		return &domain.InvalidInputError{Field: "index", Reason: "is out of range"}
	}
	return nil
}

// newBatch 校验并构造批次，缺省进价取售价
func newBatch(sell decimal.Decimal, purchase decimal.NullDecimal, qty int, expiry string) (domain.Batch, error) {
	if sell.IsNegative() {
		return domain.Batch{}, &domain.InvalidInputError{Field: "sell_price", Reason: "must not be negative"}
	}
	if purchase.Valid && purchase.Decimal.IsNegative() {
		return domain.Batch{}, &domain.InvalidInputError{Field: "purchase_price", Reason: "must not be negative"}
	}
	if qty < 0 {
		return domain.Batch{}, &domain.InvalidInputError{Field: "quantity", Reason: "must not be negative"}
	}
	exp, err := domain.ParseExpiryDate(strings.TrimSpace(expiry))
	if err != nil {
		return domain.Batch{}, err
	}
	if !purchase.Valid {
		purchase = decimal.NewNullDecimal(sell)
	}
	return domain.Batch{SellPrice: sell, PurchasePrice: purchase, Quantity: qty, ExpiryDate: exp}, nil
}
