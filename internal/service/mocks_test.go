package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
)

// mockStore 内存中的目录与订单仓储，读写都做深拷贝，模拟真实的持久化边界
type mockStore struct {
	mu      sync.Mutex
	catalog domain.Catalog
	orders  []*domain.Order

	saveCatalogErr error
	saveOrdersErr  error
	catalogSaves   int
	orderSaves     int
}

func newMockStore(catalog domain.Catalog) *mockStore {
	if catalog == nil {
		catalog = domain.Catalog{}
	}
	return &mockStore{catalog: catalog}
}

func cloneOrders(in []*domain.Order) []*domain.Order {
	out := make([]*domain.Order, 0, len(in))
	for _, o := range in {
		cp := *o
		cp.Items = append([]domain.OrderItem(nil), o.Items...)
		out = append(out, &cp)
	}
	return out
}

func (m *mockStore) LoadCatalog(context.Context) (domain.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog.Clone(), nil
}

func (m *mockStore) SaveCatalog(_ context.Context, c domain.Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveCatalogErr != nil {
		return m.saveCatalogErr
	}
	m.catalogSaves++
	m.catalog = c.Clone()
	return nil
}

func (m *mockStore) LoadOrders(context.Context) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrders(m.orders), nil
}

func (m *mockStore) SaveOrders(_ context.Context, orders []*domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveOrdersErr != nil {
		return m.saveOrdersErr
	}
	m.orderSaves++
	m.orders = cloneOrders(orders)
	return nil
}

func (m *mockStore) quantities(pid string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.catalog[pid]
	out := make([]int, len(p.Batches))
	for i, b := range p.Batches {
		out[i] = b.Quantity
	}
	return out
}

// ctxStore 写入时检查 context，模拟遵守取消信号的数据库驱动
type ctxStore struct {
	*mockStore
}

func (s ctxStore) SaveCatalog(ctx context.Context, c domain.Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mockStore.SaveCatalog(ctx, c)
}

func (s ctxStore) SaveOrders(ctx context.Context, orders []*domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mockStore.SaveOrders(ctx, orders)
}

// mockPublisher 记录发布的事件
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *mockPublisher) PublishOrderEvent(_ context.Context, evt domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *mockPublisher) count(t domain.OrderEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// failingLimiter 记录存储不可用
type failingLimiter struct{}

func (failingLimiter) CanPlaceOrder(context.Context, string, time.Time) (limiter.Decision, error) {
	return limiter.Decision{}, errors.New("record store unavailable")
}

func (failingLimiter) RecordOrder(context.Context, string, time.Time) error {
	return errors.New("record store unavailable")
}

// sequenceIDs 依次返回给定的订单号，用完后按序号生成
func sequenceIDs(ids ...string) domain.IDSource {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= len(ids) {
			return ids[n-1], nil
		}
		return fmt.Sprintf("ORD%08d", n), nil
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) *time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func testBatch(qty int, sell, purchase string, expiry *time.Time) domain.Batch {
	b := domain.Batch{SellPrice: d(sell), Quantity: qty, ExpiryDate: expiry}
	if purchase != "" {
		b.PurchasePrice = decimal.NewNullDecimal(d(purchase))
	}
	return b
}

// fefoCatalog 商品 1：[2024-01-01: 5, 2024-03-01: 5, 无效期: 5]；商品 2：3 件
func fefoCatalog() domain.Catalog {
	return domain.Catalog{
		"1": {ID: "1", Name: "Amoxicillin", Batches: domain.Batches{
			testBatch(5, "10", "4", day("2024-01-01")),
			testBatch(5, "10", "6", day("2024-03-01")),
			testBatch(5, "10", "8", nil),
		}},
		"2": {ID: "2", Name: "Bandage", Batches: domain.Batches{
			testBatch(3, "2.5", "", nil),
		}},
	}
}
