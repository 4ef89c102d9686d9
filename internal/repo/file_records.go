package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// OrderTimeLayout orders.json 中 created_at 的格式
const OrderTimeLayout = "2006-01-02 15:04:05"

// flexInt 兼容旧数据中以字符串保存的整数
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		v = int(f)
	}
	*n = flexInt(v)
	return nil
}

// money 金额以 JSON 数字写出，读取时同时接受数字和字符串
type money struct{ decimal.Decimal }

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

// nullMoney 可缺失的金额，缺失时写出 null
type nullMoney struct{ decimal.NullDecimal }

func (m nullMoney) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return []byte(m.Decimal.String()), nil
}

func (m *nullMoney) UnmarshalJSON(b []byte) error {
	return m.NullDecimal.UnmarshalJSON(b)
}

type batchRecord struct {
	Price         money     `json:"price"`
	PurchasePrice nullMoney `json:"purchase_price"`
	Quantity      flexInt   `json:"quantity"`
	ExpiryDate    string    `json:"expiry_date"`
}

type productRecord struct {
	Name    string        `json:"name"`
	Image   string        `json:"image"`
	Batches []batchRecord `json:"batches"`
}

func productFromRecord(id string, rec productRecord) (*domain.Product, error) {
	p := &domain.Product{ID: id, Name: rec.Name, Image: rec.Image, Batches: make(domain.Batches, 0, len(rec.Batches))}
	for i, br := range rec.Batches {
		exp, err := domain.ParseExpiryDate(strings.TrimSpace(br.ExpiryDate))
		if err != nil {
			return nil, fmt.Errorf("product %s batch %d: %w", id, i, err)
		}
		if br.Quantity < 0 {
			return nil, fmt.Errorf("product %s batch %d: negative quantity %d", id, i, br.Quantity)
		}
		p.Batches = append(p.Batches, domain.Batch{
			SellPrice:     br.Price.Decimal,
			PurchasePrice: br.PurchasePrice.NullDecimal,
			Quantity:      int(br.Quantity),
			ExpiryDate:    exp,
		})
	}
	return p, nil
}

func productToRecord(p *domain.Product) productRecord {
	rec := productRecord{Name: p.Name, Image: p.Image, Batches: make([]batchRecord, 0, len(p.Batches))}
	for _, b := range p.Batches {
		br := batchRecord{
			Price:         money{b.SellPrice},
			PurchasePrice: nullMoney{b.PurchasePrice},
			Quantity:      flexInt(b.Quantity),
		}
		if b.ExpiryDate != nil {
			br.ExpiryDate = b.ExpiryDate.Format(domain.DateLayout)
		}
		rec.Batches = append(rec.Batches, br)
	}
	return rec
}

// orderItemRecord 写出时使用 qty；更早的数据用 quantity 记录数量
type orderItemRecord struct {
	ProductID string    `json:"product_id,omitempty"`
	Name      string    `json:"name"`
	Qty       *flexInt  `json:"qty"`
	Quantity  *flexInt  `json:"quantity,omitempty"`
	Price     money     `json:"price"`
	Cost      nullMoney `json:"cost"`
}

func (r orderItemRecord) quantity() int {
	switch {
	case r.Qty != nil:
		return int(*r.Qty)
	case r.Quantity != nil:
		return int(*r.Quantity)
	}
	return 0
}

type orderRecord struct {
	OrderID    string          `json:"order_id"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone"`
	Items      json.RawMessage `json:"items"`
	TotalPrice money           `json:"total_price"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
}

// decodeItems 明细既可能是数组，也可能是旧格式中以商品 ID 为键的对象
func decodeItems(raw json.RawMessage) ([]domain.OrderItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var recs []orderItemRecord
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, err
		}
	case '{':
		keyed := map[string]orderItemRecord{}
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(keyed))
		for id := range keyed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rec := keyed[id]
			rec.ProductID = id
			recs = append(recs, rec)
		}
	default:
		return nil, fmt.Errorf("items must be an array or an object")
	}

	items := make([]domain.OrderItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, domain.OrderItem{
			ProductID:     r.ProductID,
			Name:          r.Name,
			Quantity:      r.quantity(),
			UnitSellPrice: r.Price.Decimal,
			UnitCost:      r.Cost.NullDecimal,
		})
	}
	return items, nil
}

func orderFromRecord(rec orderRecord, loc *time.Location) (*domain.Order, error) {
	items, err := decodeItems(rec.Items)
	if err != nil {
		return nil, fmt.Errorf("order %s items: %w", rec.OrderID, err)
	}
	status, err := domain.ParseOrderStatus(rec.Status)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", rec.OrderID, err)
	}
	var created time.Time
	if rec.CreatedAt != "" {
		created, err = time.ParseInLocation(OrderTimeLayout, rec.CreatedAt, loc)
		if err != nil {
			return nil, fmt.Errorf("order %s created_at: %w", rec.OrderID, err)
		}
	}
	return &domain.Order{
		ID:         rec.OrderID,
		Customer:   domain.Customer{Name: rec.Name, Phone: rec.Phone},
		Items:      items,
		TotalPrice: rec.TotalPrice.Decimal,
		Status:     status,
		CreatedAt:  created,
	}, nil
}

func orderToRecord(o *domain.Order, loc *time.Location) (orderRecord, error) {
	recs := make([]orderItemRecord, 0, len(o.Items))
	for _, it := range o.Items {
		qty := flexInt(it.Quantity)
		recs = append(recs, orderItemRecord{
			ProductID: it.ProductID,
			Name:      it.Name,
			Qty:       &qty,
			Price:     money{it.UnitSellPrice},
			Cost:      nullMoney{it.UnitCost},
		})
	}
	items, err := json.Marshal(recs)
	if err != nil {
		return orderRecord{}, err
	}
	rec := orderRecord{
		OrderID:    o.ID,
		Name:       o.Customer.Name,
		Phone:      o.Customer.Phone,
		Items:      items,
		TotalPrice: money{o.TotalPrice},
		Status:     string(o.Status),
	}
	if !o.CreatedAt.IsZero() {
		rec.CreatedAt = o.CreatedAt.In(loc).Format(OrderTimeLayout)
	}
	return rec, nil
}

type rateLimitRecord struct {
	LastOrderTime string `json:"last_order_time"`
}
