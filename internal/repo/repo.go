// Package repo 实现目录、订单与下单记录的持久化。
// 服务层每次读取完整集合、在内存中修改后整体写回，
// 仓储只负责加载与保存，不包含业务规则。
package repo

import (
	"context"
	"errors"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// ErrCorruptData 持久化数据存在但无法解析，与“不存在”区分开
var ErrCorruptData = errors.New("corrupt persisted data")

// CatalogRepository 目录的整体读写
type CatalogRepository interface {
	// LoadCatalog 数据不存在时返回空目录
	LoadCatalog(ctx context.Context) (domain.Catalog, error)
	SaveCatalog(ctx context.Context, catalog domain.Catalog) error
}

// OrderRepository 订单列表的整体读写，保持存储顺序
type OrderRepository interface {
	// LoadOrders 数据不存在时返回空列表
	LoadOrders(ctx context.Context) ([]*domain.Order, error)
	SaveOrders(ctx context.Context, orders []*domain.Order) error
}
