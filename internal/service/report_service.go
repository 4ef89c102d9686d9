package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

const (
	// ExpiryWarningDays 临期预警天数
	ExpiryWarningDays = 30
	// LowStockThreshold 低库存阈值
	LowStockThreshold = 5
	topProductsLimit  = 10
)

// 库存概览状态
const (
	StockStatusOut        = "out"
	StockStatusExpireSoon = "expire_soon"
	StockStatusLow        = "low"
	StockStatusOK         = "ok"
)

// ProductSales 商品销量
type ProductSales struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Summary 后台首页汇总
type Summary struct {
	TotalOrders   int             `json:"total_orders"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TopProducts   []ProductSales  `json:"top_products"`
	ExpiringCount int             `json:"expiring_count"`
}

// PeriodProfit 某个统计周期的收入、成本与利润
type PeriodProfit struct {
	Period  string          `json:"period"`
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
	Profit  decimal.Decimal `json:"profit"`
}

// ProfitReport 已完成订单的利润统计
type ProfitReport struct {
	Daily          []PeriodProfit `json:"daily"`
	Weekly         []PeriodProfit `json:"weekly"`
	Monthly        []PeriodProfit `json:"monthly"`
	Totals         PeriodProfit   `json:"totals"`
	CompletedCount int            `json:"completed_count"`
}

// ExpiringBatch 临期或已过期的批次
type ExpiringBatch struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	ExpiryDate string `json:"expiry_date"`
	Quantity   int    `json:"quantity"`
	DaysLeft   int    `json:"days_left"`
}

// StockItem 库存概览中的一行
type StockItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	TotalQty   int    `json:"total_qty"`
	NearestExp string `json:"nearest_exp,omitempty"`
	DaysLeft   *int   `json:"days_left,omitempty"`
	Status     string `json:"status"`
}

// ReportService 后台报表，只读
type ReportService struct {
	inv *Inventory
	now func() time.Time
}

// NewReportService 创建报表服务
func NewReportService(inv *Inventory) *ReportService {
	return &ReportService{inv: inv, now: time.Now}
}

// Summary 订单总数、未取消订单的收入、销量前十的商品与 30 天内到期的批次数
func (s *ReportService) Summary(ctx context.Context) (*Summary, error) {
	now := s.now()
	out := &Summary{TotalRevenue: decimal.Zero, TopProducts: []ProductSales{}}

	err := s.inv.View(ctx, func(tx *Tx) error {
		orders, err := tx.Orders()
		if err != nil {
			return err
		}
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}

		out.TotalOrders = len(orders)
		sold := map[string]int{}
		for _, o := range orders {
			if o.Status == domain.OrderStatusCancelled {
				continue
			}
			out.TotalRevenue = out.TotalRevenue.Add(o.TotalPrice)
			for _, it := range o.Items {
				sold[it.Name] += it.Quantity
			}
		}
		for name, qty := range sold {
			out.TopProducts = append(out.TopProducts, ProductSales{Name: name, Quantity: qty})
		}
		sort.Slice(out.TopProducts, func(i, j int) bool {
			a, b := out.TopProducts[i], out.TopProducts[j]
			if a.Quantity != b.Quantity {
				return a.Quantity > b.Quantity
			}
			return a.Name < b.Name
		})
		if len(out.TopProducts) > topProductsLimit {
			out.TopProducts = out.TopProducts[:topProductsLimit]
		}

		out.ExpiringCount = len(expiringBatches(catalog, ExpiryWarningDays, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Profits 只统计已完成订单，按日、ISO 周与月分桶。缺少成本的明细按售价计成本。
func (s *ReportService) Profits(ctx context.Context) (*ProfitReport, error) {
	var orders []*domain.Order
	err := s.inv.View(ctx, func(tx *Tx) error {
		var err error
		orders, err = tx.Orders()
		return err
	})
	if err != nil {
		return nil, err
	}

	daily := map[string]*PeriodProfit{}
	weekly := map[string]*PeriodProfit{}
	monthly := map[string]*PeriodProfit{}
	report := &ProfitReport{Totals: PeriodProfit{Period: "total", Revenue: decimal.Zero, Cost: decimal.Zero}}

	for _, o := range orders {
		if o.Status != domain.OrderStatusCompleted {
			continue
		}
		report.CompletedCount++
		if o.CreatedAt.IsZero() {
			continue
		}
		revenue, cost := o.Revenue(), o.Cost()
		report.Totals.Revenue = report.Totals.Revenue.Add(revenue)
		report.Totals.Cost = report.Totals.Cost.Add(cost)

		year, week := o.CreatedAt.ISOWeek()
		addBucket(daily, o.CreatedAt.Format("2006-01-02"), revenue, cost)
		addBucket(weekly, fmt.Sprintf("%d-W%02d", year, week), revenue, cost)
		addBucket(monthly, o.CreatedAt.Format("2006-01"), revenue, cost)
	}
	report.Totals.Profit = report.Totals.Revenue.Sub(report.Totals.Cost)
	report.Daily = sortedBuckets(daily)
	report.Weekly = sortedBuckets(weekly)
	report.Monthly = sortedBuckets(monthly)
	return report, nil
}

// Expiring 剩余天数不超过 days 的全部带效期批次，包含已过期的
func (s *ReportService) Expiring(ctx context.Context, days int) ([]ExpiringBatch, error) {
	now := s.now()
	var out []ExpiringBatch
	err := s.inv.View(ctx, func(tx *Tx) error {
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		out = expiringBatches(catalog, days, now)
		return nil
	})
	return out, err
}

// StockOverview 每个商品的总库存、最近效期与状态
func (s *ReportService) StockOverview(ctx context.Context) ([]StockItem, error) {
	now := s.now()
	var out []StockItem
	err := s.inv.View(ctx, func(tx *Tx) error {
		catalog, err := tx.Catalog()
		if err != nil {
			return err
		}
		out = make([]StockItem, 0, len(catalog))
		for _, id := range catalog.SortedIDs() {
			out = append(out, stockItem(catalog[id], now))
		}
		return nil
	})
	return out, err
}

func stockItem(p *domain.Product, now time.Time) StockItem {
	item := StockItem{ProductID: p.ID, Name: p.Name, TotalQty: p.TotalStock()}

	if exp := p.NearestExpiry(); exp != nil {
		b := domain.Batch{ExpiryDate: exp}
		days, _ := b.DaysUntilExpiry(now)
		item.NearestExp = exp.Format(domain.DateLayout)
		item.DaysLeft = &days
	}

	switch {
	case item.TotalQty == 0:
		item.Status = StockStatusOut
	case item.DaysLeft != nil && *item.DaysLeft <= 0:
		item.Status = StockStatusOut
	case item.DaysLeft != nil && *item.DaysLeft <= ExpiryWarningDays:
		item.Status = StockStatusExpireSoon
	case item.TotalQty <= LowStockThreshold:
		item.Status = StockStatusLow
	default:
		item.Status = StockStatusOK
	}
	return item
}

func expiringBatches(catalog domain.Catalog, days int, now time.Time) []ExpiringBatch {
	out := []ExpiringBatch{}
	for _, id := range catalog.SortedIDs() {
		p := catalog[id]
		for i := range p.Batches {
			b := &p.Batches[i]
			left, ok := b.DaysUntilExpiry(now)
			if !ok || left > days {
				continue
			}
			out = append(out, ExpiringBatch{
				ProductID:  p.ID,
				Name:       p.Name,
				ExpiryDate: b.ExpiryDate.Format(domain.DateLayout),
				Quantity:   b.Quantity,
				DaysLeft:   left,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysLeft < out[j].DaysLeft })
	return out
}

func addBucket(store map[string]*PeriodProfit, key string, revenue, cost decimal.Decimal) {
	b, ok := store[key]
	if !ok {
		b = &PeriodProfit{Period: key, Revenue: decimal.Zero, Cost: decimal.Zero}
		store[key] = b
	}
	b.Revenue = b.Revenue.Add(revenue)
	b.Cost = b.Cost.Add(cost)
}

func sortedBuckets(store map[string]*PeriodProfit) []PeriodProfit {
	out := make([]PeriodProfit, 0, len(store))
	for _, b := range store {
		b.Profit = b.Revenue.Sub(b.Cost)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}
