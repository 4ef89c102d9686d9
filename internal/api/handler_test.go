package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MorseWayne/pharmacy_shop/internal/config"
	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
	"github.com/MorseWayne/pharmacy_shop/internal/repo"
	"github.com/MorseWayne/pharmacy_shop/internal/service"
)

// envelope 统一响应体，data 延迟解析
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	engine *gin.Engine
	store  *repo.FileStore
}

func expiry(s string) *time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func seedCatalog() domain.Catalog {
	return domain.Catalog{
		"1": {ID: "1", Name: "Amoxicillin", Image: "amox.png", Batches: domain.Batches{
			{SellPrice: decimal.NewFromInt(10), PurchasePrice: decimal.NewNullDecimal(decimal.NewFromInt(4)), Quantity: 5, ExpiryDate: expiry("2030-01-01")},
			{SellPrice: decimal.NewFromInt(10), PurchasePrice: decimal.NewNullDecimal(decimal.NewFromInt(6)), Quantity: 5},
		}},
		"2": {ID: "2", Name: "Bandage", Batches: domain.Batches{
			{SellPrice: decimal.RequireFromString("2.5"), PurchasePrice: decimal.NewNullDecimal(decimal.NewFromInt(1)), Quantity: 3},
		}},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := repo.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveCatalog(context.Background(), seedCatalog()))

	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.Local)
	inv := service.NewInventory(store, store, nil)
	rl := limiter.NewOrderIntervalLimiter(limiter.NewTableRecordStore(store), time.Hour, nil)
	orders := service.NewOrderService(inv, rl, nil, service.WithClock(func() time.Time { return now }))

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.App.Name = "pharmacy_shop"
	cfg.JWT.Secret = "test-secret-key"
	cfg.JWT.AccessTokenTTL = time.Minute
	admin := service.NewAdminService(config.AdminConfig{Username: "owner", PasswordHash: string(hash)},
		service.NewJWTService(cfg, nil), nil)

	oh := NewOrderHandler(orders, false, nil)
	ph := NewProductHandler(service.NewCatalogService(inv, nil), nil)
	ah := NewAdminHandler(admin, nil)
	rh := NewReportHandler(service.NewReportService(inv), nil)

	r := gin.New()
	r.GET("/products", ph.ListProducts)
	r.GET("/products/:id", ph.GetProduct)
	r.GET("/products/:id/availability", ph.CheckAvailability)
	r.POST("/orders", oh.SubmitOrder)
	r.GET("/orders/:id", oh.GetOrder)
	r.POST("/admin/login", ah.Login)
	r.GET("/admin/orders", oh.ListOrders)
	r.POST("/admin/orders/manual", oh.CreateManualOrder)
	r.PUT("/admin/orders/:id/status", oh.UpdateOrderStatus)
	r.GET("/admin/products", ph.ListAdminProducts)
	r.POST("/admin/products", ph.CreateProduct)
	r.PATCH("/admin/products/:id", ph.UpdateProduct)
	r.DELETE("/admin/products/:id", ph.DeleteProduct)
	r.POST("/admin/products/:id/batches", ph.AddBatch)
	r.PUT("/admin/products/:id/batches/:index", ph.UpdateBatch)
	r.DELETE("/admin/products/:id/batches/:index", ph.DeleteBatch)
	r.GET("/admin/reports/summary", rh.Summary)
	r.GET("/admin/reports/profits", rh.Profits)
	r.GET("/admin/reports/expiring", rh.Expiring)
	r.GET("/admin/reports/stock", rh.Stock)

	return &testServer{engine: r, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body, remote string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if remote != "" {
		req.RemoteAddr = remote
	}
	rr := httptest.NewRecorder()
	s.engine.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "body: %s", rr.Body.String())
	return rr, env
}

func (s *testServer) stock(t *testing.T, id string) int {
	t.Helper()
	catalog, err := s.store.LoadCatalog(context.Background())
	require.NoError(t, err)
	return catalog[id].TotalStock()
}

const cartBody = `{"name":"Sara","phone":"0100","items":[{"product_id":"1","quantity":7}]}`

func TestSubmitOrder_CreatedThenRateLimited(t *testing.T) {
	s := newTestServer(t)

	rr, env := s.do(t, http.MethodPost, "/orders", cartBody, "10.0.0.1:5000")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var order domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, order.TotalPrice.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, 3, s.stock(t, "1"))

	// 同一来源一小时内再次下单
	rr, env = s.do(t, http.MethodPost, "/orders", cartBody, "10.0.0.1:6000")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "3600", rr.Header().Get("Retry-After"))
	var limited RateLimitData
	require.NoError(t, json.Unmarshal(env.Data, &limited))
	assert.Equal(t, 60, limited.MinutesRemaining)

	// 其他来源不受影响
	rr, _ = s.do(t, http.MethodPost, "/orders",
		`{"name":"Omar","phone":"0200","items":[{"product_id":"2","quantity":1}]}`, "10.0.0.2:5000")
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr, env = s.do(t, http.MethodGet, "/orders/"+order.ID, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var tracked domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &tracked))
	assert.Equal(t, order.ID, tracked.ID)
}

func TestSubmitOrder_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"malformed body", `{"items":`, http.StatusBadRequest},
		{"missing phone", `{"name":"Sara","items":[{"product_id":"1","quantity":1}]}`, http.StatusBadRequest},
		{"unknown product", `{"name":"Sara","phone":"1","items":[{"product_id":"99","quantity":1}]}`, http.StatusNotFound},
		{"insufficient stock", `{"name":"Sara","phone":"1","items":[{"product_id":"2","quantity":4}]}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rr, _ := s.do(t, http.MethodPost, "/orders", tt.body, "10.0.0.9:1")
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, 10, s.stock(t, "1"))
			assert.Equal(t, 3, s.stock(t, "2"))
		})
	}
}

func TestSubmitOrder_InsufficientStockDetails(t *testing.T) {
	s := newTestServer(t)
	rr, env := s.do(t, http.MethodPost, "/orders",
		`{"name":"Sara","phone":"1","items":[{"product_id":"2","quantity":2},{"product_id":"2","quantity":2}]}`, "10.0.0.3:1")
	require.Equal(t, http.StatusConflict, rr.Code)

	var data StockErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "2", data.ProductID)
	assert.Equal(t, 3, data.Available)
}

func TestGetOrder_NotFound(t *testing.T) {
	s := newTestServer(t)
	rr, _ := s.do(t, http.MethodGet, "/orders/ORDMISSING1", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateOrderStatus_CancelRestoresOnce(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodPost, "/orders", cartBody, "10.0.0.1:5000")
	var order domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	require.Equal(t, 3, s.stock(t, "1"))

	path := "/admin/orders/" + order.ID + "/status"
	rr, _ := s.do(t, http.MethodPut, path, `{"status":"cancelled"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 10, s.stock(t, "1"))

	rr, _ = s.do(t, http.MethodPut, path, `{"status":"cancelled"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 10, s.stock(t, "1"))

	rr, _ = s.do(t, http.MethodPut, path, `{"status":"shipped"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = s.do(t, http.MethodPut, path, `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateManualOrder(t *testing.T) {
	s := newTestServer(t)
	rr, env := s.do(t, http.MethodPost, "/admin/orders/manual",
		`{"name":"Walk-in","items":[{"product_id":"2","quantity":2}]}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var order domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, service.UnknownPhone, order.Customer.Phone)
	assert.Equal(t, 1, s.stock(t, "2"))

	rr, env = s.do(t, http.MethodGet, "/admin/orders", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var orders []domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &orders))
	assert.Len(t, orders, 1)
}

func TestProducts_PublicViewHidesCost(t *testing.T) {
	s := newTestServer(t)

	rr, env := s.do(t, http.MethodGet, "/products", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, string(env.Data), "purchase_price")

	var views []ProductView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "1", views[0].ID)
	assert.Equal(t, 10, views[0].Stock)
	assert.Equal(t, "2030-01-01", views[0].NearestExpiry)
	assert.Empty(t, views[1].NearestExpiry)

	rr, _ = s.do(t, http.MethodGet, "/products/42", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCheckAvailability(t *testing.T) {
	s := newTestServer(t)

	rr, env := s.do(t, http.MethodGet, "/products/2/availability?qty=3", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var ok AvailabilityResponse
	require.NoError(t, json.Unmarshal(env.Data, &ok))
	assert.True(t, ok.OK)
	assert.Equal(t, 3, ok.Available)

	rr, env = s.do(t, http.MethodGet, "/products/2/availability?qty=4", "", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	var short StockErrorData
	require.NoError(t, json.Unmarshal(env.Data, &short))
	assert.Equal(t, 3, short.Available)

	rr, _ = s.do(t, http.MethodGet, "/products/2/availability?qty=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminProducts_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	rr, env := s.do(t, http.MethodPost, "/admin/products",
		`{"name":"Ibuprofen","sell_price":"8","stock":4,"expiry_date":"2031-05-01"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p domain.Product
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "3", p.ID)

	rr, _ = s.do(t, http.MethodPatch, "/admin/products/3", `{"image":"ibu.png"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = s.do(t, http.MethodPost, "/admin/products/3/batches", "", "")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, _ = s.do(t, http.MethodPut, "/admin/products/3/batches/1",
		`{"sell_price":"8","purchase_price":"5","quantity":6,"expiry_date":""}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 10, s.stock(t, "3"))

	rr, _ = s.do(t, http.MethodPut, "/admin/products/3/batches/x", `{"quantity":1}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = s.do(t, http.MethodDelete, "/admin/products/3/batches/5", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = s.do(t, http.MethodDelete, "/admin/products/3/batches/0", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 6, s.stock(t, "3"))

	rr, env = s.do(t, http.MethodGet, "/admin/products", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(env.Data), "purchase_price")

	rr, _ = s.do(t, http.MethodDelete, "/admin/products/3", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr, _ = s.do(t, http.MethodDelete, "/admin/products/3", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminLogin(t *testing.T) {
	s := newTestServer(t)

	rr, env := s.do(t, http.MethodPost, "/admin/login", `{"username":"owner","password":"s3cret"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out domain.LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.NotEmpty(t, out.AccessToken)

	rr, _ = s.do(t, http.MethodPost, "/admin/login", `{"username":"owner","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr, _ = s.do(t, http.MethodPost, "/admin/login", `{"username":"owner"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReports(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.do(t, http.MethodPost, "/admin/orders/manual",
		`{"name":"Walk-in","items":[{"product_id":"2","quantity":2}]}`, "")

	for _, path := range []string{"/admin/reports/summary", "/admin/reports/profits", "/admin/reports/stock", "/admin/reports/expiring"} {
		rr, _ := s.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	_, env := s.do(t, http.MethodGet, "/admin/reports/profits", "", "")
	var report service.ProfitReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.CompletedCount)
	assert.True(t, report.Totals.Profit.Equal(decimal.NewFromInt(3)))

	rr, _ := s.do(t, http.MethodGet, "/admin/reports/expiring?days=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, env = s.do(t, http.MethodGet, "/admin/reports/expiring?days=100000", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(string(env.Data), "Amoxicillin"))
}
