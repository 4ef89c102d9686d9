package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
)

// MySQLStore 在 MySQL 中保存目录与订单。
// 每次保存在一个事务内完成，批次按 position 保持存储顺序。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQL 仓储
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// LoadCatalog 读取全部商品及其批次
func (s *MySQLStore) LoadCatalog(ctx context.Context) (domain.Catalog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, image FROM products`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	catalog := domain.Catalog{}
	for rows.Next() {
		p := &domain.Product{Batches: domain.Batches{}}
		if err := rows.Scan(&p.ID, &p.Name, &p.Image); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		catalog[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	batchRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, sell_price, purchase_price, quantity, expiry_date
		FROM batches
		ORDER BY product_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer batchRows.Close()

	for batchRows.Next() {
		var (
			productID string
			b         domain.Batch
			expiry    sql.NullTime
		)
		if err := batchRows.Scan(&productID, &b.SellPrice, &b.PurchasePrice, &b.Quantity, &expiry); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if expiry.Valid {
			t := expiry.Time
			b.ExpiryDate = &t
		}
		p, ok := catalog[productID]
		if !ok {
			continue
		}
		p.Batches = append(p.Batches, b)
	}
	if err := batchRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return catalog, nil
}

// SaveCatalog 用给定目录整体替换表内容
func (s *MySQLStore) SaveCatalog(ctx context.Context, catalog domain.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM batches`); err != nil {
		return fmt.Errorf("clear batches: %w", err)
	}

	ids := catalog.SortedIDs()
	if len(ids) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
			return fmt.Errorf("clear products: %w", err)
		}
		return tx.Commit()
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id NOT IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete removed products: %w", err)
	}

	for _, id := range ids {
		p := catalog[id]
		if p == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, image) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), image = VALUES(image)
		`, p.ID, p.Name, p.Image); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
		for pos, b := range p.Batches {
			var expiry sql.NullTime
			if b.ExpiryDate != nil {
				expiry = sql.NullTime{Time: *b.ExpiryDate, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO batches (product_id, position, sell_price, purchase_price, quantity, expiry_date)
				VALUES (?, ?, ?, ?, ?, ?)
			`, p.ID, pos, b.SellPrice, b.PurchasePrice, b.Quantity, expiry); err != nil {
				return fmt.Errorf("insert batch %d of product %s: %w", pos, p.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadOrders 按创建顺序读取全部订单
func (s *MySQLStore) LoadOrders(ctx context.Context) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, customer_name, customer_phone, total_price, status, created_at
		FROM orders
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	byID := map[string]*domain.Order{}
	for rows.Next() {
		o := &domain.Order{}
		var status string
		if err := rows.Scan(&o.ID, &o.Customer.Name, &o.Customer.Phone, &o.TotalPrice, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		st, err := domain.ParseOrderStatus(status)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w: %v", o.ID, ErrCorruptData, err)
		}
		o.Status = st
		orders = append(orders, o)
		byID[o.ID] = o
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, quantity, unit_sell_price, unit_cost
		FROM order_items
		ORDER BY order_id, line_no
	`)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			orderID string
			it      domain.OrderItem
		)
		if err := itemRows.Scan(&orderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitSellPrice, &it.UnitCost); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	if orders == nil {
		orders = []*domain.Order{}
	}
	return orders, nil
}

// SaveOrders 新订单连同明细插入，已有订单只更新状态（订单除状态外不可变）
func (s *MySQLStore) SaveOrders(ctx context.Context, orders []*domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, o := range orders {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (order_id, customer_name, customer_phone, total_price, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status)
		`, o.ID, o.Customer.Name, o.Customer.Phone, o.TotalPrice, string(o.Status), o.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert order %s: %w", o.ID, err)
		}
		// MySQL 对新插入的行返回 1，更新返回 2，未变化返回 0
		if affected, err := res.RowsAffected(); err != nil || affected != 1 {
			continue
		}
		for i, it := range o.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, line_no, product_id, name, quantity, unit_sell_price, unit_cost)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, o.ID, i, it.ProductID, it.Name, it.Quantity, it.UnitSellPrice, it.UnitCost); err != nil {
				return fmt.Errorf("insert item %d of order %s: %w", i, o.ID, err)
			}
		}
	}

	return tx.Commit()
}

// MySQLRateLimitStore 以 order_rate_limits 表按来源保存最近下单时间，实现 limiter.RecordStore
type MySQLRateLimitStore struct {
	db *sql.DB
}

// NewMySQLRateLimitStore 创建记录存储
func NewMySQLRateLimitStore(db *sql.DB) *MySQLRateLimitStore {
	return &MySQLRateLimitStore{db: db}
}

func (s *MySQLRateLimitStore) Get(ctx context.Context, origin string) (string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_order_time FROM order_rate_limits WHERE origin = ?`, origin).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get rate limit record: %w", err)
	}
	return raw, true, nil
}

func (s *MySQLRateLimitStore) Put(ctx context.Context, origin, raw string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_rate_limits (origin, last_order_time) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_order_time = VALUES(last_order_time)
	`, origin, raw)
	if err != nil {
		return fmt.Errorf("put rate limit record: %w", err)
	}
	return nil
}
