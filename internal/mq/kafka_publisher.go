package mq

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// KafkaPublisher 把订单事件写入 Kafka topic，以订单号作为消息 key
type KafkaPublisher struct {
	writer *kafka.Writer
	source string
	logger *zap.Logger
	closed atomic.Bool
}

// NewKafkaPublisher 创建 Kafka 发布者。writer 按需建立连接，不在此处拨号。
func NewKafkaPublisher(config *KafkaConfig, source string, logger *zap.Logger) (*KafkaPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	batchTimeout := config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		WriteTimeout:           config.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Info("kafka publisher ready", zap.Strings("brokers", config.Brokers), zap.String("topic", config.Topic))
	return &KafkaPublisher{writer: writer, source: source, logger: logger}, nil
}

// PublishOrderEvent 发布订单事件
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, evt domain.OrderEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	km, err := buildKafkaMessage(NewMessage(evt, p.source, ""))
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close 刷出缓冲并关闭 writer
func (p *KafkaPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}

func buildKafkaMessage(msg *Message) (kafka.Message, error) {
	body, err := msg.ToJSON()
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.Key()),
		Value: body,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
			{Key: "message_id", Value: []byte(msg.ID)},
			{Key: "version", Value: []byte(msg.Version)},
		},
	}, nil
}
