package domain

import "time"

// OrderEventType 订单生命周期事件类型
type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventStatusChanged OrderEventType = "order.status_changed"
	OrderEventCancelled     OrderEventType = "order.cancelled"
)

// OrderEvent 订单提交或状态变更后发布的事件。
// 取消事件的 Restocked 为回补到库存的明细。
type OrderEvent struct {
	Type           OrderEventType `json:"type"`
	OrderID        string         `json:"order_id"`
	Status         OrderStatus    `json:"status"`
	PreviousStatus OrderStatus    `json:"previous_status,omitempty"`
	Order          *Order         `json:"order,omitempty"`
	Restocked      []CartLine     `json:"restocked,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
