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
)

// ConnectionState 连接状态
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected 连接不可用
var ErrNotConnected = errors.New("rabbitmq connection is not available")

// dialFunc 便于替换拨号实现
type dialFunc func(url string, cfg amqp.Config) (*amqp.Connection, error)

// ConnectionManager RabbitMQ 连接管理器，断线后按配置自动重连
type ConnectionManager struct {
	config *RabbitConfig
	logger *zap.Logger
	dial   dialFunc

	conn      *amqp.Connection
	connMutex sync.RWMutex
	state     int32

	stopCh         chan struct{}
	stopOnce       sync.Once
	reconnectCount int32

	// onReconnected 重连成功后回调，用于重建交换机与通道
	onReconnected func()
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(config *RabbitConfig, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		config: config,
		logger: logger,
		dial:   amqp.DialConfig,
		state:  int32(StateDisconnected),
		stopCh: make(chan struct{}),
	}
}

// Connect 建立连接
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&cm.state, int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("connection is already in progress or connected")
	}

	if err := cm.connectInternal(ctx); err != nil {
		atomic.StoreInt32(&cm.state, int32(StateDisconnected))
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	cm.logger.Info("rabbitmq connected")
	go cm.monitorConnection()
	return nil
}

// connectInternal 拨号并保存连接，ctx 的截止时间作为拨号超时
func (cm *ConnectionManager) connectInternal(ctx context.Context) error {
	timeout := cm.config.ConnectionTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	connConfig := amqp.Config{
		Heartbeat: cm.config.HeartbeatInterval,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	}

	conn, err := cm.dial(cm.config.URL, connConfig)
	if err != nil {
		return err
	}

	cm.connMutex.Lock()
	cm.conn = conn
	cm.connMutex.Unlock()

	atomic.StoreInt32(&cm.state, int32(StateConnected))
	return nil
}

// Channel 在当前连接上打开新通道
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	cm.connMutex.RLock()
	conn := cm.conn
	cm.connMutex.RUnlock()

	if conn == nil || conn.IsClosed() || !cm.IsConnected() {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// IsConnected 检查是否已连接
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateConnected
}

// State 获取连接状态
func (cm *ConnectionManager) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&cm.state))
}

// ReconnectCount 累计重连次数
func (cm *ConnectionManager) ReconnectCount() int {
	return int(atomic.LoadInt32(&cm.reconnectCount))
}

// Close 关闭连接并停止重连
func (cm *ConnectionManager) Close() error {
	if ConnectionState(atomic.SwapInt32(&cm.state, int32(StateClosed))) == StateClosed {
		return nil
	}
	cm.stopOnce.Do(func() { close(cm.stopCh) })

	cm.connMutex.Lock()
	defer cm.connMutex.Unlock()
	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	cm.logger.Info("rabbitmq connection closed")
	return nil
}

// monitorConnection 监听连接关闭事件
func (cm *ConnectionManager) monitorConnection() {
	cm.connMutex.RLock()
	conn := cm.conn
	cm.connMutex.RUnlock()
	if conn == nil {
		return
	}

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case err := <-closeCh:
		if err != nil {
			cm.handleDisconnection(err)
		}
	case <-cm.stopCh:
	}
}

// handleDisconnection 处理连接断开
func (cm *ConnectionManager) handleDisconnection(err error) {
	if !atomic.CompareAndSwapInt32(&cm.state, int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	cm.logger.Warn("rabbitmq connection lost", zap.Error(err))

	if cm.config.EnableReconnect {
		go cm.reconnect()
	} else {
		atomic.StoreInt32(&cm.state, int32(StateDisconnected))
	}
}

// reconnect 按固定间隔重连，达到上限后放弃
func (cm *ConnectionManager) reconnect() {
	maxAttempts := cm.config.MaxReconnectAttempts

	for attempt := 1; ; attempt++ {
		select {
		case <-cm.stopCh:
			return
		default:
		}
		atomic.AddInt32(&cm.reconnectCount, 1)

		ctx, cancel := context.WithTimeout(context.Background(), cm.config.ConnectionTimeout)
		err := cm.connectInternal(ctx)
		cancel()

		if err == nil {
			cm.logger.Info("rabbitmq reconnected", zap.Int("attempts", attempt))
			if cm.onReconnected != nil {
				cm.onReconnected()
			}
			go cm.monitorConnection()
			return
		}

		cm.logger.Error("rabbitmq reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		if maxAttempts > 0 && attempt >= maxAttempts {
			cm.logger.Error("rabbitmq reconnect gave up", zap.Int("max_attempts", maxAttempts))
			atomic.CompareAndSwapInt32(&cm.state, int32(StateReconnecting), int32(StateDisconnected))
			return
		}

		select {
		case <-time.After(cm.config.ReconnectInterval):
		case <-cm.stopCh:
			return
		}
	}
}
