package mq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

func TestRabbitPublisher_PublishOrderEvent(t *testing.T) {
	// 注意：此测试需要运行 RabbitMQ 实例
	if testing.Short() {
		t.Skip("Skipping RabbitMQ test in short mode")
	}

	cfg := DefaultRabbitConfig()
	cfg.Exchange = "pharmacy.orders.test." + time.Now().Format("150405.000000")
	cfg.ConnectionTimeout = 2 * time.Second
	cfg.EnableReconnect = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := NewRabbitPublisher(ctx, cfg, "pharmacy_shop", nil)
	if err != nil {
		t.Skipf("Skipping RabbitMQ test, cannot connect: %v", err)
	}
	defer p.Close()

	conn, err := amqp.Dial(cfg.URL)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	defer ch.ExchangeDelete(cfg.Exchange, false, false)

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "order.#", cfg.Exchange, false, nil))
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	require.NoError(t, p.PublishOrderEvent(ctx, cancelledEvent()))

	select {
	case d := <-deliveries:
		assert.Equal(t, "order.cancelled", d.RoutingKey)
		assert.Equal(t, "pharmacy_shop", d.AppId)
		msg, err := ParseMessage(d.Body)
		require.NoError(t, err)
		assert.Equal(t, "ORD20250301103000ABCD", msg.Key())
	case <-ctx.Done():
		t.Fatal("no delivery received")
	}

	published, failed := p.Stats()
	assert.Equal(t, int64(1), published)
	assert.Zero(t, failed)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.PublishOrderEvent(ctx, cancelledEvent()), ErrPublisherClosed)
}

func TestKafkaPublisher_PublishOrderEvent(t *testing.T) {
	// 注意：此测试需要运行 Kafka 实例
	if testing.Short() {
		t.Skip("Skipping Kafka test in short mode")
	}

	const broker = "localhost:9092"
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
	conn, err := kafka.DialContext(dialCtx, "tcp", broker)
	dialCancel()
	if err != nil {
		t.Skipf("Skipping Kafka test, cannot connect: %v", err)
	}
	topic := "pharmacy.orders.test." + time.Now().Format("150405000000")
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
	conn.Close()

	p, err := NewKafkaPublisher(&KafkaConfig{Brokers: []string{broker}, Topic: topic, WriteTimeout: 5 * time.Second}, "pharmacy_shop", nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.PublishOrderEvent(ctx, cancelledEvent()))

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: []string{broker}, Topic: topic, Partition: 0, MaxBytes: 1 << 20})
	defer r.Close()
	m, err := r.ReadMessage(ctx)
	require.NoError(t, err)

	assert.Equal(t, "ORD20250301103000ABCD", string(m.Key))
	msg, err := ParseMessage(m.Value)
	require.NoError(t, err)
	require.NotNil(t, msg.Data)
	assert.Equal(t, domain.OrderStatusCancelled, msg.Data.Status)
}
