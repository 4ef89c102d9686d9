// Package domain 定义药房订单履约的领域模型与核心业务规则：
// 批次账本（FEFO 扣减与回补）、目录、订单状态机与业务错误。
package domain

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Product 商品，按 ID 标识，持有有序的批次集合
type Product struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Image   string  `json:"image"`
	Batches Batches `json:"batches"`
}

// TotalStock 商品总库存
func (p *Product) TotalStock() int {
	return p.Batches.Total()
}

// SellPrice 下单时快照的售价：取第一个批次的售价，无批次时为 0
func (p *Product) SellPrice() decimal.Decimal {
	if len(p.Batches) == 0 {
		return decimal.Zero
	}
	return p.Batches[0].SellPrice
}

// Allocate 按 FEFO 扣减库存，错误中带上商品 ID
func (p *Product) Allocate(qty int) (decimal.Decimal, error) {
	cost, err := p.Batches.Allocate(qty)
	if err != nil {
		if se, ok := err.(*InsufficientStockError); ok {
			se.ProductID = p.ID
		}
		return decimal.Zero, err
	}
	return cost, nil
}

// Restore 回补库存
func (p *Product) Restore(qty int, sellPriceHint decimal.Decimal) error {
	bs, err := p.Batches.Restore(qty, sellPriceHint)
	if err != nil {
		return err
	}
	p.Batches = bs
	return nil
}

// NearestExpiry 有库存的批次中最近的效期
func (p *Product) NearestExpiry() *time.Time {
	var nearest *time.Time
	for i := range p.Batches {
		b := &p.Batches[i]
		if b.ExpiryDate == nil || b.Quantity <= 0 {
			continue
		}
		if nearest == nil || b.ExpiryDate.Before(*nearest) {
			nearest = b.ExpiryDate
		}
	}
	return nearest
}

// Clone 深拷贝商品
func (p *Product) Clone() *Product {
	cp := *p
	cp.Batches = p.Batches.Clone()
	return &cp
}

// Catalog 以商品 ID 为键的目录
type Catalog map[string]*Product

// Get 查找商品
func (c Catalog) Get(id string) (*Product, error) {
	p, ok := c[id]
	if !ok || p == nil {
		return nil, &ProductNotFoundError{ProductID: id}
	}
	return p, nil
}

// Clone 深拷贝整个目录，用于在持久化失败时保留原始快照
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for id, p := range c {
		if p != nil {
			out[id] = p.Clone()
		}
	}
	return out
}

// Upgrade 对旧数据执行一次性升级：为缺少进价的批次补齐进价。返回被修改的批次数。
func (c Catalog) Upgrade() int {
	n := 0
	for _, p := range c {
		if p == nil {
			continue
		}
		for i := range p.Batches {
			if p.Batches[i].EnsurePurchasePrice() {
				n++
			}
		}
	}
	return n
}

// SortedIDs 按数值（非数值 ID 按字典序排在后面）排序的商品 ID
func (c Catalog) SortedIDs() []string {
	ids := slices.Collect(maps.Keys(c))
	slices.SortFunc(ids, func(a, b string) int {
		na, errA := strconv.Atoi(a)
		nb, errB := strconv.Atoi(b)
		switch {
		case errA == nil && errB == nil:
			return na - nb
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		default:
			if a < b {
				return -1
			}
			if a > b {
				return 1
			}
			return 0
		}
	})
	return ids
}

// NextID 新商品 ID：现有数值 ID 的最大值加一
func (c Catalog) NextID() string {
	maxID := 0
	for id := range c {
		if n, err := strconv.Atoi(id); err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}

// CreateProductRequest 新建商品并附带一个初始批次，缺省进价时取售价
type CreateProductRequest struct {
	Name          string              `json:"name" binding:"required"`
	Image         string              `json:"image"`
	SellPrice     decimal.Decimal     `json:"sell_price"`
	PurchasePrice decimal.NullDecimal `json:"purchase_price"`
	Stock         int                 `json:"stock"`
	ExpiryDate    string              `json:"expiry_date"`
}

// UpdateProductRequest 修改商品主信息，为空的字段不修改
type UpdateProductRequest struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

// UpdateBatchRequest 修改指定下标的批次，缺省进价时取售价
type UpdateBatchRequest struct {
	SellPrice     decimal.Decimal     `json:"sell_price"`
	PurchasePrice decimal.NullDecimal `json:"purchase_price"`
	Quantity      int                 `json:"quantity"`
	ExpiryDate    string              `json:"expiry_date"`
}

// ParseExpiryDate 解析效期字符串，空串表示无效期
func ParseExpiryDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, invalidInput("expiry_date", "must be formatted as YYYY-MM-DD")
	}
	return &t, nil
}
