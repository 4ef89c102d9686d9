package service

import (
	"github.com/shopspring/decimal"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// ValidateAvailability 按购物车顺序检查每一行，遇到第一个缺货即返回。
// 同一商品出现在多行时按累计需求检查。不修改目录。
func ValidateAvailability(cart []domain.CartLine, catalog domain.Catalog) error {
	if len(cart) == 0 {
		return &domain.InvalidInputError{Field: "items", Reason: "must not be empty"}
	}

	demand := make(map[string]int, len(cart))
	for _, line := range cart {
		if line.ProductID == "" {
			return &domain.InvalidInputError{Field: "product_id", Reason: "is required"}
		}
		if line.Quantity <= 0 {
			return &domain.InvalidInputError{Field: "quantity", Reason: "must be positive"}
		}
		p, err := catalog.Get(line.ProductID)
		if err != nil {
			return err
		}
		demand[line.ProductID] += line.Quantity
		if available := p.TotalStock(); demand[line.ProductID] > available {
			return &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Available: available,
				Requested: demand[line.ProductID],
			}
		}
	}
	return nil
}

// AllocateCart 按购物车顺序对每一行执行 FEFO 扣减，返回订单明细。
// 售价取扣减前商品第一个批次的售价，成本为本行扣减批次的加权平均进价。
// 只能在 ValidateAvailability 通过后调用，且目录应是调用方可丢弃的工作副本：
// 中途失败时已扣减的行不会回滚。
func AllocateCart(cart []domain.CartLine, catalog domain.Catalog) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(cart))
	for _, line := range cart {
		p, err := catalog.Get(line.ProductID)
		if err != nil {
			return nil, err
		}
		price := p.SellPrice()
		cost, err := p.Allocate(line.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrderItem{
			ProductID:     p.ID,
			Name:          p.Name,
			Quantity:      line.Quantity,
			UnitSellPrice: price,
			UnitCost:      decimal.NewNullDecimal(cost),
		})
	}
	return items, nil
}
