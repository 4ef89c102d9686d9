package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"    // 顾客下单，待处理
	OrderStatusProcessing OrderStatus = "processing" // 备货中
	OrderStatusCompleted  OrderStatus = "completed"  // 已完成（门店手工单直接完成）
	OrderStatusCancelled  OrderStatus = "cancelled"  // 已取消，终态
)

// 旧数据中的本地化状态值
var legacyStatuses = map[string]OrderStatus{
	"قيد الانتظار": OrderStatusPending,
	"مكتمل":        OrderStatusCompleted,
	"ملغي":         OrderStatusCancelled,
}

// ParseOrderStatus 解析状态字符串，兼容旧数据中的本地化取值
func ParseOrderStatus(s string) (OrderStatus, error) {
	s = strings.TrimSpace(s)
	if st, ok := legacyStatuses[s]; ok {
		return st, nil
	}
	switch st := OrderStatus(strings.ToLower(s)); st {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return st, nil
	}
	return "", invalidInput("status", "is not a known order status")
}

// 允许的状态迁移
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {OrderStatusCancelled},
}

// CanTransitionTo 判断是否允许从 s 迁移到 next。相同状态视为允许（空操作）。
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, st := range allowedTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// IsTerminal 是否终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled
}

// CartLine 购物车中的一行
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderItem 订单明细，售价在下单时快照，成本为扣减批次的加权平均进价。
// 旧订单可能没有成本记录，此时 UnitCost 无效。
type OrderItem struct {
	ProductID     string              `json:"product_id"`
	Name          string              `json:"name"`
	Quantity      int                 `json:"quantity"`
	UnitSellPrice decimal.Decimal     `json:"unit_sell_price"`
	UnitCost      decimal.NullDecimal `json:"unit_cost"`
}

// Subtotal 数量 × 售价
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitSellPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Customer 顾客身份信息
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Order 订单。创建后除 Status 外不可变。
type Order struct {
	ID         string          `json:"order_id"`
	Customer   Customer        `json:"customer"`
	Items      []OrderItem     `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ComputeTotal 订单总价：Σ 数量 × 售价
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Revenue 订单收入
func (o *Order) Revenue() decimal.Decimal {
	return ComputeTotal(o.Items)
}

// CostBasis 单位成本，缺失时按售价计
func (it OrderItem) CostBasis() decimal.Decimal {
	if it.UnitCost.Valid {
		return it.UnitCost.Decimal
	}
	return it.UnitSellPrice
}

// Cost 订单成本：Σ 数量 × 单位成本
func (o *Order) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.CostBasis().Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// SubmitOrderRequest 顾客结算请求
type SubmitOrderRequest struct {
	Name  string     `json:"name"`
	Phone string     `json:"phone"`
	Items []CartLine `json:"items"`
}

// ManualOrderRequest 门店手工录单请求
type ManualOrderRequest struct {
	Name  string     `json:"name"`
	Phone string     `json:"phone"`
	Items []CartLine `json:"items"`
}

// UpdateOrderStatusRequest 修改订单状态请求
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
