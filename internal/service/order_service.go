package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
)

// UnknownPhone 门店手工单未填写电话时的占位值
const UnknownPhone = "N/A"

// OrderRateLimiter 按来源限制下单频率
type OrderRateLimiter interface {
	CanPlaceOrder(ctx context.Context, origin string, now time.Time) (limiter.Decision, error)
	RecordOrder(ctx context.Context, origin string, now time.Time) error
}

// EventPublisher 发布订单事件，发布失败不影响已提交的订单
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, evt domain.OrderEvent) error
}

// OrderService 订单生命周期：顾客下单、门店手工单、状态变更与查询
type OrderService struct {
	inv        *Inventory
	limiter    OrderRateLimiter
	events     EventPublisher
	logger     *zap.Logger
	now        func() time.Time
	idSource   domain.IDSource
	idAttempts int
}

// OrderServiceOption 可选配置
type OrderServiceOption func(*OrderService)

// WithClock 替换时钟
func WithClock(now func() time.Time) OrderServiceOption {
	return func(s *OrderService) { s.now = now }
}

// WithIDSource 替换订单号生成器
func WithIDSource(src domain.IDSource, maxAttempts int) OrderServiceOption {
	return func(s *OrderService) {
		s.idSource = src
		if maxAttempts > 0 {
			s.idAttempts = maxAttempts
		}
	}
}

// WithEventPublisher 设置事件发布器
func WithEventPublisher(p EventPublisher) OrderServiceOption {
	return func(s *OrderService) { s.events = p }
}

// NewOrderService 创建订单服务
func NewOrderService(inv *Inventory, rl OrderRateLimiter, logger *zap.Logger, opts ...OrderServiceOption) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &OrderService{
		inv:        inv,
		limiter:    rl,
		logger:     logger,
		now:        time.Now,
		idSource:   domain.RandomOrderID,
		idAttempts: 32,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitOrder 顾客结算：限流检查 → 校验顾客信息 → 校验全部库存 → FEFO 扣减 → 生成待处理订单 → 记录来源下单时间。
// 任何校验失败都发生在修改之前，不会出现部分扣减。
func (s *OrderService) SubmitOrder(ctx context.Context, req *domain.SubmitOrderRequest, origin string) (*domain.Order, error) {
	now := s.now()
	var order *domain.Order

	err := s.inv.Update(ctx, func(tx *Tx) error {
		decision, err := s.limiter.CanPlaceOrder(ctx, origin, now)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return &domain.RateLimitedError{MinutesRemaining: decision.MinutesRemaining}
		}

		customer, err := validateCustomer(req.Name, req.Phone, true)
		if err != nil {
			return err
		}

		order, err = s.placeOrder(tx, customer, req.Items, domain.OrderStatusPending, now)
		if err != nil {
			return err
		}
		// 提交成功后在同一把锁内记录来源，记录失败只影响下一次限流判断
		orderID := order.ID
		tx.OnCommit(func() {
			if err := s.limiter.RecordOrder(context.WithoutCancel(ctx), origin, now); err != nil {
				s.logger.Error("failed to record order origin", zap.String("origin", origin),
					zap.String("order_id", orderID), zap.Error(err))
			}
		})
		return nil
	})
	if err != nil {
		s.logger.Info("order rejected", zap.String("origin", origin), zap.Error(err))
		return nil, err
	}

	s.logger.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.String("origin", origin),
		zap.Int("items", len(order.Items)),
		zap.String("total_price", order.TotalPrice.String()),
	)
	s.publish(ctx, domain.OrderEvent{
		Type: domain.OrderEventCreated, OrderID: order.ID, Status: order.Status, Order: order, OccurredAt: now,
	})
	return order, nil
}

// CreateManualOrder 门店手工单：付款与交付同时发生，直接为已完成状态，不受来源限流
func (s *OrderService) CreateManualOrder(ctx context.Context, req *domain.ManualOrderRequest) (*domain.Order, error) {
	now := s.now()
	var order *domain.Order

	err := s.inv.Update(ctx, func(tx *Tx) error {
		customer, err := validateCustomer(req.Name, req.Phone, false)
		if err != nil {
			return err
		}
		if customer.Phone == "" {
			customer.Phone = UnknownPhone
		}
		order, err = s.placeOrder(tx, customer, req.Items, domain.OrderStatusCompleted, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("manual order created",
		zap.String("order_id", order.ID),
		zap.String("total_price", order.TotalPrice.String()),
	)
	s.publish(ctx, domain.OrderEvent{
		Type: domain.OrderEventCreated, OrderID: order.ID, Status: order.Status, Order: order, OccurredAt: now,
	})
	return order, nil
}

// placeOrder 校验并扣减库存，生成订单并追加到订单列表
func (s *OrderService) placeOrder(tx *Tx, customer domain.Customer, cart []domain.CartLine,
	status domain.OrderStatus, now time.Time) (*domain.Order, error) {
	catalog, err := tx.Catalog()
	if err != nil {
		return nil, err
	}
	if err := ValidateAvailability(cart, catalog); err != nil {
		return nil, err
	}
	items, err := AllocateCart(cart, catalog)
	if err != nil {
		return nil, err
	}
	tx.MarkCatalogDirty()

	existing, err := tx.OrderIDs()
	if err != nil {
		return nil, err
	}
	order, err := CreateOrder(customer, items, status, existing, now, s.idSource, s.idAttempts)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

// SetOrderStatus 修改订单状态；进入取消状态时回补库存。
// 状态未变化时不做任何修改，重复取消不会重复回补。
func (s *OrderService) SetOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	if _, err := domain.ParseOrderStatus(string(next)); err != nil {
		return nil, err
	}

	var (
		order     *domain.Order
		prev      domain.OrderStatus
		restocked []domain.CartLine
	)
	err := s.inv.Update(ctx, func(tx *Tx) error {
		o, err := tx.FindOrder(orderID)
		if err != nil {
			return err
		}
		prev = o.Status
		if prev == next {
			order = o
			return nil
		}

		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		var skipped []string
		restocked, skipped, err = ApplyStatus(o, next, catalog)
		if err != nil {
			return err
		}
		for _, pid := range skipped {
			s.logger.Warn("product no longer in catalog, skipping restock",
				zap.String("order_id", o.ID), zap.String("product_id", pid))
		}
		if len(restocked) > 0 {
			tx.MarkCatalogDirty()
		}
		tx.MarkOrdersDirty()
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if prev == next {
		return order, nil
	}

	now := s.now()
	s.logger.Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.Int("restocked_lines", len(restocked)),
	)
	s.publish(ctx, domain.OrderEvent{
		Type: domain.OrderEventStatusChanged, OrderID: order.ID, Status: next, PreviousStatus: prev, OccurredAt: now,
	})
	if next == domain.OrderStatusCancelled {
		s.publish(ctx, domain.OrderEvent{
			Type: domain.OrderEventCancelled, OrderID: order.ID, Status: next, PreviousStatus: prev,
			Restocked: restocked, OccurredAt: now,
		})
	}
	return order, nil
}

// GetOrder 按订单号查询
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var order *domain.Order
	err := s.inv.View(ctx, func(tx *Tx) error {
		o, err := tx.FindOrder(orderID)
		order = o
		return err
	})
	return order, err
}

// ListOrders 按存储顺序返回全部订单
func (s *OrderService) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := s.inv.View(ctx, func(tx *Tx) error {
		var err error
		orders, err = tx.Orders()
		return err
	})
	return orders, err
}

func (s *OrderService) publish(ctx context.Context, evt domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to publish order event",
			zap.String("type", string(evt.Type)),
			zap.String("order_id", evt.OrderID),
			zap.Error(err))
	}
}
