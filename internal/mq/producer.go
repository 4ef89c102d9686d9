package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// ErrPublisherClosed 发布者已关闭
var ErrPublisherClosed = errors.New("publisher is closed")

// RabbitPublisher 把订单事件发布到 RabbitMQ 交换机，路由键为事件类型
type RabbitPublisher struct {
	cm     *ConnectionManager
	config *RabbitConfig
	source string
	logger *zap.Logger

	mu sync.Mutex
	ch *amqp.Channel

	publishedCount int64
	failedCount    int64
	closed         atomic.Bool
}

// NewRabbitPublisher 连接 RabbitMQ 并声明交换机
func NewRabbitPublisher(ctx context.Context, config *RabbitConfig, source string, logger *zap.Logger) (*RabbitPublisher, error) {
	if config == nil {
		config = DefaultRabbitConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rabbitmq config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cm := NewConnectionManager(config, logger)
	if err := cm.Connect(ctx); err != nil {
		return nil, err
	}

	p := &RabbitPublisher{cm: cm, config: config, source: source, logger: logger}
	cm.onReconnected = p.resetChannel

	p.mu.Lock()
	_, err := p.channelLocked()
	p.mu.Unlock()
	if err != nil {
		_ = cm.Close()
		return nil, err
	}
	logger.Info("rabbitmq publisher ready", zap.String("exchange", config.Exchange))
	return p, nil
}

// PublishOrderEvent 发布订单事件，失败时按配置重试
func (p *RabbitPublisher) PublishOrderEvent(ctx context.Context, evt domain.OrderEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	msg := NewMessage(evt, p.source, "")
	body, err := msg.ToJSON()
	if err != nil {
		return err
	}
	publishing := buildPublishing(msg, body)

	var lastErr error
	maxAttempts := p.config.MaxRetryAttempts + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = p.publishOnce(ctx, msg.RoutingKey(), publishing); lastErr == nil {
			atomic.AddInt64(&p.publishedCount, 1)
			return nil
		}

		p.logger.Warn("event publish failed",
			zap.String("exchange", p.config.Exchange),
			zap.String("routing_key", msg.RoutingKey()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(p.config.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	atomic.AddInt64(&p.failedCount, 1)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxAttempts, lastErr)
}

// publishOnce 单次发布，开启确认模式时等待 broker ack
func (p *RabbitPublisher) publishOnce(ctx context.Context, routingKey string, publishing amqp.Publishing) error {
	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	p.mu.Lock()
	ch, err := p.channelLocked()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(publishCtx, p.config.Exchange, routingKey, false, false, publishing)
	if err != nil {
		p.ch = nil
		p.mu.Unlock()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.mu.Unlock()

	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(publishCtx)
	if err != nil {
		return fmt.Errorf("publish confirmation: %w", err)
	}
	if !acked {
		return errors.New("message was nacked by broker")
	}
	return nil
}

// channelLocked 返回可用的通道，必要时重新打开并声明交换机。调用方持有 p.mu。
func (p *RabbitPublisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.cm.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.config.Exchange, p.config.ExchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", p.config.Exchange, err)
	}
	if p.config.EnableConfirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to set confirm mode: %w", err)
		}
	}
	p.ch = ch
	return ch, nil
}

// resetChannel 重连后丢弃旧通道，下次发布时重建
func (p *RabbitPublisher) resetChannel() {
	p.mu.Lock()
	p.ch = nil
	p.mu.Unlock()
}

// Stats 发布统计
func (p *RabbitPublisher) Stats() (published, failed int64) {
	return atomic.LoadInt64(&p.publishedCount), atomic.LoadInt64(&p.failedCount)
}

// Close 关闭通道与连接
func (p *RabbitPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	p.mu.Unlock()
	return p.cm.Close()
}

// buildPublishing 构造 AMQP 消息，持久化投递
func buildPublishing(msg *Message, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Type:         msg.Type,
		AppId:        msg.Source,
		Headers: amqp.Table{
			"version":  msg.Version,
			"order_id": msg.Key(),
		},
		Body: body,
	}
}
