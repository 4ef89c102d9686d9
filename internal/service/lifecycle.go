package service

import (
	"strings"
	"time"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// CreateOrder 组装新订单：分配不与 existing 重复的订单号、记录创建时间并计算总价
func CreateOrder(customer domain.Customer, items []domain.OrderItem, status domain.OrderStatus,
	existing map[string]struct{}, now time.Time, source domain.IDSource, maxAttempts int) (*domain.Order, error) {
	id, err := domain.NewUniqueOrderID(source, existing, maxAttempts)
	if err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:         id,
		Customer:   customer,
		Items:      items,
		TotalPrice: domain.ComputeTotal(items),
		Status:     status,
		CreatedAt:  now,
	}, nil
}

// ApplyStatus 把订单迁移到 next。
// 从非取消状态进入取消状态时，按明细把数量回补到目录中；目录里已不存在的商品跳过并在 skipped 中返回。
// 状态未变化时什么也不做，因此重复取消只会回补一次。
func ApplyStatus(order *domain.Order, next domain.OrderStatus, catalog domain.Catalog) (restocked []domain.CartLine, skipped []string, err error) {
	prev := order.Status
	if prev == next {
		return nil, nil, nil
	}
	if !prev.CanTransitionTo(next) {
		return nil, nil, &domain.InvalidTransitionError{From: prev, To: next}
	}

	if next == domain.OrderStatusCancelled {
		for _, it := range order.Items {
			if it.Quantity <= 0 {
				continue
			}
			p, ok := catalog[it.ProductID]
			if !ok || p == nil {
				skipped = append(skipped, it.ProductID)
				continue
			}
			if err := p.Restore(it.Quantity, it.UnitSellPrice); err != nil {
				return nil, nil, err
			}
			restocked = append(restocked, domain.CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}

	order.Status = next
	return restocked, skipped, nil
}

// validateCustomer 去掉首尾空白后校验姓名与电话
func validateCustomer(name, phone string, phoneRequired bool) (domain.Customer, error) {
	c := domain.Customer{Name: strings.TrimSpace(name), Phone: strings.TrimSpace(phone)}
	if c.Name == "" {
		return c, &domain.InvalidInputError{Field: "name", Reason: "is required"}
	}
	if c.Phone == "" && phoneRequired {
		return c, &domain.InvalidInputError{Field: "phone", Reason: "is required"}
	}
	return c, nil
}
