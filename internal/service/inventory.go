// Package service 实现订单履约的业务用例：分配、订单生命周期、目录维护、报表与管理员认证。
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/repo"
)

// commitTimeout 提交（含失败回滚）的最长耗时，提交不受请求取消影响
const commitTimeout = 10 * time.Second

// Inventory 目录与订单的事务边界。
// 所有读-改-写都在同一把锁内执行：校验库存与扣减库存对其他订单是一个原子单元。
type Inventory struct {
	mu       sync.Mutex
	catalogs repo.CatalogRepository
	orders   repo.OrderRepository
	logger   *zap.Logger
}

// NewInventory 创建事务边界
func NewInventory(catalogs repo.CatalogRepository, orders repo.OrderRepository, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inventory{catalogs: catalogs, orders: orders, logger: logger}
}

// Tx 一次事务内的工作副本，目录与订单在首次访问时加载
type Tx struct {
	ctx context.Context
	inv *Inventory

	catalog  domain.Catalog
	original domain.Catalog
	orders   []*domain.Order

	catalogLoaded bool
	ordersLoaded  bool
	catalogDirty  bool
	ordersDirty   bool

	onCommit []func()
}

// Catalog 返回可修改的目录副本，加载时对旧数据执行一次进价升级
func (tx *Tx) Catalog() (domain.Catalog, error) {
	if tx.catalogLoaded {
		return tx.catalog, nil
	}
	c, err := tx.inv.catalogs.LoadCatalog(tx.ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if c == nil {
		c = domain.Catalog{}
	}
	tx.original = c.Clone()
	if n := c.Upgrade(); n > 0 {
		tx.inv.logger.Info("backfilled purchase price on legacy batches", zap.Int("batches", n))
		tx.catalogDirty = true
	}
	tx.catalog = c
	tx.catalogLoaded = true
	return tx.catalog, nil
}

// Orders 返回订单列表
func (tx *Tx) Orders() ([]*domain.Order, error) {
	if tx.ordersLoaded {
		return tx.orders, nil
	}
	orders, err := tx.inv.orders.LoadOrders(tx.ctx)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	tx.orders = orders
	tx.ordersLoaded = true
	return tx.orders, nil
}

// FindOrder 按订单号查找
func (tx *Tx) FindOrder(orderID string) (*domain.Order, error) {
	orders, err := tx.Orders()
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return nil, &domain.OrderNotFoundError{OrderID: orderID}
}

// OrderIDs 已有订单号集合
func (tx *Tx) OrderIDs() (map[string]struct{}, error) {
	orders, err := tx.Orders()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		ids[o.ID] = struct{}{}
	}
	return ids, nil
}

// AppendOrder 追加新订单
func (tx *Tx) AppendOrder(o *domain.Order) error {
	if _, err := tx.Orders(); err != nil {
		return err
	}
	tx.orders = append(tx.orders, o)
	tx.ordersDirty = true
	return nil
}

// MarkCatalogDirty 提交时写回目录
func (tx *Tx) MarkCatalogDirty() { tx.catalogDirty = true }

// MarkOrdersDirty 提交时写回订单
func (tx *Tx) MarkOrdersDirty() { tx.ordersDirty = true }

// OnCommit 注册提交成功后、释放锁之前执行的回调；fn 返回错误或提交失败时不会执行
func (tx *Tx) OnCommit(fn func()) { tx.onCommit = append(tx.onCommit, fn) }

// commit 先写目录再写订单；订单写入失败时把目录恢复为事务开始前的快照。
// 写入使用脱离请求取消的 context，客户端断开不会让目录与订单停在半提交状态。
func (tx *Tx) commit() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(tx.ctx), commitTimeout)
	defer cancel()

	if tx.catalogDirty {
		if err := tx.inv.catalogs.SaveCatalog(ctx, tx.catalog); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
	}
	if tx.ordersDirty {
		if err := tx.inv.orders.SaveOrders(ctx, tx.orders); err != nil {
			if tx.catalogDirty {
				if rerr := tx.inv.catalogs.SaveCatalog(ctx, tx.original); rerr != nil {
					tx.inv.logger.Error("failed to restore catalog after order save failure",
						zap.Error(rerr), zap.NamedError("cause", err))
				}
			}
			return fmt.Errorf("save orders: %w", err)
		}
	}
	return nil
}

// Update 在锁内执行 fn，fn 返回 nil 时提交修改；返回错误时丢弃工作副本
func (inv *Inventory) Update(ctx context.Context, fn func(tx *Tx) error) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	tx := &Tx{ctx: ctx, inv: inv}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		return err
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	return nil
}

// View 在锁内执行只读操作，不会写回任何修改
func (inv *Inventory) View(ctx context.Context, fn func(tx *Tx) error) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	return fn(&Tx{ctx: ctx, inv: inv})
}
