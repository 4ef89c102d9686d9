package mq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// MessageVersion 消息结构版本
const MessageVersion = "1"

// Message 订单事件消息的外层结构
type Message struct {
	ID        string             `json:"id"`        // 消息唯一ID
	Type      string             `json:"type"`      // 事件类型，同时作为路由键
	Version   string             `json:"version"`   // 消息版本
	Timestamp time.Time          `json:"timestamp"` // 消息时间戳
	Source    string             `json:"source"`    // 消息源
	TraceID   string             `json:"trace_id,omitempty"`
	Data      *domain.OrderEvent `json:"data"`
}

// NewMessage 包装订单事件
func NewMessage(evt domain.OrderEvent, source, traceID string) *Message {
	ts := evt.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      string(evt.Type),
		Version:   MessageVersion,
		Timestamp: ts,
		Source:    source,
		TraceID:   traceID,
		Data:      &evt,
	}
}

// RoutingKey 路由键即事件类型，例如 order.cancelled
func (m *Message) RoutingKey() string {
	return m.Type
}

// Key 分区键，同一订单的事件落在同一分区以保持顺序
func (m *Message) Key() string {
	if m.Data == nil {
		return m.ID
	}
	return m.Data.OrderID
}

// ToJSON 序列化消息
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage 反序列化消息
func ParseMessage(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if m.ID == "" || m.Type == "" {
		return nil, fmt.Errorf("message is missing id or type")
	}
	return &m, nil
}
