package mq

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/config"
	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// Publisher 订单事件发布者
type Publisher interface {
	PublishOrderEvent(ctx context.Context, evt domain.OrderEvent) error
	Close() error
}

// NopPublisher 不发布任何事件
type NopPublisher struct{}

func (NopPublisher) PublishOrderEvent(context.Context, domain.OrderEvent) error { return nil }
func (NopPublisher) Close() error                                               { return nil }

// NewPublisher 按配置创建事件发布者，source 写入消息的来源字段
func NewPublisher(ctx context.Context, cfg config.EventsConfig, source string, logger *zap.Logger) (Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case config.EventsRabbitMQ:
		rc := DefaultRabbitConfig()
		rc.URL = cfg.RabbitMQURL
		rc.Exchange = cfg.RabbitMQExchange
		if cfg.PublishTimeout > 0 {
			rc.PublishTimeout = cfg.PublishTimeout
		}
		return NewRabbitPublisher(ctx, rc, source, logger)
	case config.EventsKafka:
		return NewKafkaPublisher(&KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			WriteTimeout: cfg.PublishTimeout,
		}, source, logger)
	case config.EventsNone, "":
		return NopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
