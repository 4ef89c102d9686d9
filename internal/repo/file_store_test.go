package repo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	s.loc = time.UTC
	return s, dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileStore_AbsentFilesAreEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	catalog, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)

	orders, err := s.LoadOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	table, err := s.LoadRateLimitTable(ctx)
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestFileStore_LoadsLegacyProducts(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, dir, ProductsFile, `{
		"3": {"name": "Paracetamol", "image": "p.png", "batches": [
			{"price": "12.5", "quantity": "4", "expiry_date": ""},
			{"price": 10, "purchase_price": 6, "quantity": 2, "expiry_date": "2025-03-01"}
		]}
	}`)

	catalog, err := s.LoadCatalog(context.Background())
	require.NoError(t, err)

	p, err := catalog.Get("3")
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol", p.Name)
	require.Len(t, p.Batches, 2)

	assert.Equal(t, 4, p.Batches[0].Quantity)
	assert.Nil(t, p.Batches[0].ExpiryDate)
	assert.False(t, p.Batches[0].PurchasePrice.Valid)
	assert.True(t, p.Batches[0].SellPrice.Equal(decimal.RequireFromString("12.5")))

	require.NotNil(t, p.Batches[1].ExpiryDate)
	assert.Equal(t, "2025-03-01", p.Batches[1].ExpiryDate.Format(domain.DateLayout))
	assert.True(t, p.Batches[1].PurchasePrice.Decimal.Equal(decimal.NewFromInt(6)))
}

func TestFileStore_CatalogRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	exp := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	in := domain.Catalog{
		"1": {ID: "1", Name: "A", Batches: domain.Batches{
			{SellPrice: decimal.NewFromInt(5), PurchasePrice: decimal.NewNullDecimal(decimal.NewFromInt(3)), Quantity: 7, ExpiryDate: &exp},
			{SellPrice: decimal.NewFromInt(5), PurchasePrice: decimal.NewNullDecimal(decimal.NewFromInt(5)), Quantity: 1},
		}},
	}
	require.NoError(t, s.SaveCatalog(ctx, in))

	out, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	p, err := out.Get("1")
	require.NoError(t, err)
	require.Len(t, p.Batches, 2)
	assert.Equal(t, 7, p.Batches[0].Quantity)
	assert.True(t, p.Batches[0].ExpiryDate.Equal(exp))
	assert.Nil(t, p.Batches[1].ExpiryDate)
}

func TestFileStore_LoadsLegacyOrders(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, dir, OrdersFile, `[
		{"order_id": "ORDAAAA1111", "name": "Sara", "phone": "0100",
		 "items": {"2": {"name": "B", "qty": 1, "price": 4}, "1": {"name": "A", "qty": "2", "price": 3, "cost": 2}},
		 "total_price": 10, "status": "ملغي", "created_at": "2024-05-01 10:30:00"},
		{"order_id": "ORDBBBB2222", "name": "Ali", "phone": "0111",
		 "items": [{"product_id": "1", "name": "A", "qty": 1, "price": 3}],
		 "total_price": 3, "status": "pending", "created_at": "2024-05-02 08:00:00"}
	]`)

	orders, err := s.LoadOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	first := orders[0]
	assert.Equal(t, domain.OrderStatusCancelled, first.Status)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC), first.CreatedAt)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "1", first.Items[0].ProductID)
	assert.Equal(t, 2, first.Items[0].Quantity)
	assert.True(t, first.Items[0].UnitCost.Valid)
	assert.False(t, first.Items[1].UnitCost.Valid)

	assert.Equal(t, domain.OrderStatusPending, orders[1].Status)
	assert.Equal(t, "1", orders[1].Items[0].ProductID)
}

func TestFileStore_OrdersRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	in := []*domain.Order{{
		ID:       "ORDABCDEFGH",
		Customer: domain.Customer{Name: "N", Phone: "P"},
		Items: []domain.OrderItem{{
			ProductID: "1", Name: "A", Quantity: 2,
			UnitSellPrice: decimal.NewFromInt(10),
			UnitCost:      decimal.NewNullDecimal(decimal.RequireFromString("4.5")),
		}},
		TotalPrice: decimal.NewFromInt(20),
		Status:     domain.OrderStatusProcessing,
		CreatedAt:  created,
	}}
	require.NoError(t, s.SaveOrders(ctx, in))

	out, err := s.LoadOrders(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in[0].ID, out[0].ID)
	assert.Equal(t, created, out[0].CreatedAt)
	assert.Equal(t, domain.OrderStatusProcessing, out[0].Status)
	assert.True(t, out[0].Items[0].UnitCost.Decimal.Equal(decimal.RequireFromString("4.5")))
}

func TestFileStore_WritesAmountsAsNumbers(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCatalog(ctx, domain.Catalog{
		"1": {ID: "1", Name: "A", Batches: domain.Batches{
			{SellPrice: decimal.RequireFromString("12.5"), PurchasePrice: decimal.NewNullDecimal(decimal.NewFromInt(6)), Quantity: 3},
			{SellPrice: decimal.NewFromInt(10), Quantity: 1},
		}},
	}))
	require.NoError(t, s.SaveOrders(ctx, []*domain.Order{{
		ID:       "ORDABCDEFGH",
		Customer: domain.Customer{Name: "N", Phone: "P"},
		Items: []domain.OrderItem{{
			ProductID: "1", Name: "A", Quantity: 2,
			UnitSellPrice: decimal.RequireFromString("12.5"),
			UnitCost:      decimal.NewNullDecimal(decimal.NewFromInt(6)),
		}},
		TotalPrice: decimal.NewFromInt(25),
		Status:     domain.OrderStatusPending,
	}}))

	var products map[string]struct {
		Batches []map[string]interface{} `json:"batches"`
	}
	data, err := os.ReadFile(filepath.Join(dir, ProductsFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &products))
	batches := products["1"].Batches
	require.Len(t, batches, 2)
	assert.Equal(t, 12.5, batches[0]["price"])
	assert.Equal(t, float64(6), batches[0]["purchase_price"])
	assert.Nil(t, batches[1]["purchase_price"])

	var orders []struct {
		TotalPrice interface{}              `json:"total_price"`
		Items      []map[string]interface{} `json:"items"`
	}
	data, err = os.ReadFile(filepath.Join(dir, OrdersFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, float64(25), orders[0].TotalPrice)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, 12.5, orders[0].Items[0]["price"])
	assert.Equal(t, float64(6), orders[0].Items[0]["cost"])
	assert.Equal(t, float64(2), orders[0].Items[0]["qty"])
	assert.NotContains(t, orders[0].Items[0], "quantity")
}

func TestFileStore_LoadsLegacyQuantityKey(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, dir, OrdersFile, `[
		{"order_id": "ORDCCCC3333", "name": "Sara", "phone": "0100",
		 "items": {"1": {"name": "A", "quantity": 3, "price": "2.5"}},
		 "total_price": "7.5", "status": "completed", "created_at": "2024-05-01 10:30:00"},
		{"order_id": "ORDDDDD4444", "name": "Ali", "phone": "0111",
		 "items": [{"product_id": "1", "name": "A", "quantity": "2", "price": 2.5},
		           {"product_id": "2", "name": "B", "qty": 4, "quantity": 9, "price": 1}],
		 "total_price": 9, "status": "pending", "created_at": "2024-05-02 08:00:00"}
	]`)

	orders, err := s.LoadOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, 3, orders[0].Items[0].Quantity)
	assert.True(t, orders[0].TotalPrice.Equal(decimal.RequireFromString("7.5")))

	require.Len(t, orders[1].Items, 2)
	assert.Equal(t, 2, orders[1].Items[0].Quantity)
	assert.Equal(t, 4, orders[1].Items[1].Quantity, "qty wins over quantity")
}

func TestFileStore_CorruptCatalogFailsOpenAndIsBackedUp(t *testing.T) {
	s, dir := newTestStore(t)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	writeFile(t, dir, ProductsFile, `{not json`)
	ctx := context.Background()

	catalog, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)

	require.NoError(t, s.SaveCatalog(ctx, domain.Catalog{"1": {ID: "1", Name: "A"}}))

	backup, err := os.ReadFile(filepath.Join(dir, ProductsFile+".corrupt-1700000000"))
	require.NoError(t, err)
	assert.Equal(t, `{not json`, string(backup))

	reloaded, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Contains(t, reloaded, "1")
}

func TestFileStore_CorruptRateLimitTable(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, dir, RateLimitFile, `[1, 2, 3]`)

	_, err := s.LoadRateLimitTable(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, limiter.ErrCorruptRecord))
	assert.True(t, errors.Is(err, ErrCorruptData))
}

func TestFileStore_RateLimitThroughLimiter(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, dir, RateLimitFile, `{"10.0.0.1": {"last_order_time": "garbage"}}`)
	ctx := context.Background()

	l := limiter.NewOrderIntervalLimiter(limiter.NewTableRecordStore(s), time.Hour, nil)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.Local)

	d, err := l.CanPlaceOrder(ctx, "10.0.0.1", now)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "unparseable timestamp must not block the origin")

	require.NoError(t, l.RecordOrder(ctx, "10.0.0.1", now))
	d, err = l.CanPlaceOrder(ctx, "10.0.0.1", now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30, d.MinutesRemaining)

	table, err := s.LoadRateLimitTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.In(time.Local).Format(limiter.TimestampLayout), table["10.0.0.1"])
}
