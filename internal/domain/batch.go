package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout 批次效期的日期格式
const DateLayout = "2006-01-02"

// Batch 一次进货形成的批次，拥有独立的售价、进价、剩余数量与效期。
// ExpiryDate 为 nil 表示不过期，退货回补的库存也落在这类批次中。
type Batch struct {
	SellPrice     decimal.Decimal     `json:"sell_price"`
	PurchasePrice decimal.NullDecimal `json:"purchase_price"`
	Quantity      int                 `json:"quantity"`
	ExpiryDate    *time.Time          `json:"expiry_date,omitempty"`
}

// HasExpiry 是否带效期
func (b *Batch) HasExpiry() bool {
	return b.ExpiryDate != nil
}

// CostBasis 单位成本：优先使用进价，缺失时退化为售价
func (b *Batch) CostBasis() decimal.Decimal {
	if b.PurchasePrice.Valid {
		return b.PurchasePrice.Decimal
	}
	return b.SellPrice
}

// EnsurePurchasePrice 为缺少进价的旧数据补齐进价（等于售价），返回是否发生了修改
func (b *Batch) EnsurePurchasePrice() bool {
	if b.PurchasePrice.Valid {
		return false
	}
	b.PurchasePrice = decimal.NewNullDecimal(b.SellPrice)
	return true
}

// DaysUntilExpiry 距效期的天数（按日历日计算），无效期时 ok 为 false
func (b *Batch) DaysUntilExpiry(now time.Time) (days int, ok bool) {
	if b.ExpiryDate == nil {
		return 0, false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	exp := time.Date(b.ExpiryDate.Year(), b.ExpiryDate.Month(), b.ExpiryDate.Day(), 0, 0, 0, 0, time.UTC)
	return int(exp.Sub(today).Hours() / 24), true
}

// Batches 一个商品的批次集合（批次账本），保持存储顺序
type Batches []Batch

// Total 所有批次剩余数量之和
func (bs Batches) Total() int {
	total := 0
	for i := range bs {
		total += bs[i].Quantity
	}
	return total
}

// FEFOOrder 返回按先到期先出排序后的下标。
// 有效期早的在前，无效期的排在最后，相同效期保持原有顺序。
func (bs Batches) FEFOOrder() []int {
	idx := make([]int, len(bs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := bs[idx[a]].ExpiryDate, bs[idx[b]].ExpiryDate
		switch {
		case ea == nil:
			return false
		case eb == nil:
			return true
		default:
			return ea.Before(*eb)
		}
	})
	return idx
}

// Allocate 按 FEFO 从批次中扣减 qty 个单位，返回加权平均单位成本。
// 批次数量在原切片上就地修改，存储顺序不变。
// 总库存不足时返回 *InsufficientStockError 且不做任何修改。
func (bs Batches) Allocate(qty int) (decimal.Decimal, error) {
	if qty <= 0 {
		return decimal.Zero, invalidInput("quantity", "must be positive")
	}
	if available := bs.Total(); available < qty {
		return decimal.Zero, &InsufficientStockError{Available: available, Requested: qty}
	}

	needed := qty
	costSum := decimal.Zero
	for _, i := range bs.FEFOOrder() {
		if needed == 0 {
			break
		}
		b := &bs[i]
		b.EnsurePurchasePrice()
		if b.Quantity <= 0 {
			continue
		}
		draw := min(needed, b.Quantity)
		costSum = costSum.Add(b.CostBasis().Mul(decimal.NewFromInt(int64(draw))))
		b.Quantity -= draw
		needed -= draw
	}

	return costSum.Div(decimal.NewFromInt(int64(qty))), nil
}

// Restore 把取消订单的数量退回到第一个无效期批次；
// 没有这样的批次时追加一个新批次，售价与进价都取 sellPriceHint。
// 不追溯原始批次，退回库存统一按通用批次记账。
func (bs Batches) Restore(qty int, sellPriceHint decimal.Decimal) (Batches, error) {
	if qty <= 0 {
		return bs, invalidInput("quantity", "must be positive")
	}
	for i := range bs {
		if !bs[i].HasExpiry() {
			bs[i].Quantity += qty
			return bs, nil
		}
	}
	return append(bs, Batch{
		SellPrice:     sellPriceHint,
		PurchasePrice: decimal.NewNullDecimal(sellPriceHint),
		Quantity:      qty,
	}), nil
}

// Clone 深拷贝批次集合
func (bs Batches) Clone() Batches {
	if bs == nil {
		return nil
	}
	out := make(Batches, len(bs))
	for i, b := range bs {
		out[i] = b
		if b.ExpiryDate != nil {
			t := *b.ExpiryDate
			out[i].ExpiryDate = &t
		}
	}
	return out
}
