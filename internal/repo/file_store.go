package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/pharmacy_shop/internal/domain"
	"github.com/MorseWayne/pharmacy_shop/internal/limiter"
)

// 数据目录中的文件名
const (
	ProductsFile  = "products.json"
	OrdersFile    = "orders.json"
	RateLimitFile = "ip_rate_limit.json"
)

// FileStore 以 JSON 文件保存目录、订单与下单记录。
// 文件损坏时记录告警并返回空集合；首次覆盖前把损坏的文件改名备份。
type FileStore struct {
	dir    string
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	corrupt map[string]bool
}

// NewFileStore 创建文件仓储，目录不存在时自动创建
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileStore{
		dir:     dir,
		loc:     time.Local,
		logger:  logger,
		now:     time.Now,
		corrupt: make(map[string]bool),
	}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSON 文件不存在时 found 为 false；内容无法解析时返回 ErrCorruptData
func (s *FileStore) readJSON(name string, dest interface{}) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return true, fmt.Errorf("%s: %w: %v", name, ErrCorruptData, err)
	}
	return true, nil
}

// writeJSON 写临时文件后原子替换
func (s *FileStore) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	if s.corrupt[name] {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path(name), s.now().Unix())
		if err := os.Rename(s.path(name), backup); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("back up corrupt %s: %w", name, err)
		}
		s.logger.Warn("corrupt data file moved aside", zap.String("file", name), zap.String("backup", backup))
		delete(s.corrupt, name)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// failOpen 记录损坏并降级为空集合
func (s *FileStore) failOpen(name string, err error) {
	s.corrupt[name] = true
	s.logger.Warn("corrupt data file, serving empty collection", zap.String("file", name), zap.Error(err))
}

// LoadCatalog 读取 products.json
func (s *FileStore) LoadCatalog(_ context.Context) (domain.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := map[string]productRecord{}
	if _, err := s.readJSON(ProductsFile, &recs); err != nil {
		if !errors.Is(err, ErrCorruptData) {
			return nil, err
		}
		s.failOpen(ProductsFile, err)
		return domain.Catalog{}, nil
	}

	catalog := make(domain.Catalog, len(recs))
	for id, rec := range recs {
		p, err := productFromRecord(id, rec)
		if err != nil {
			s.failOpen(ProductsFile, fmt.Errorf("%w: %v", ErrCorruptData, err))
			return domain.Catalog{}, nil
		}
		catalog[id] = p
	}
	return catalog, nil
}

// SaveCatalog 覆盖写入 products.json
func (s *FileStore) SaveCatalog(_ context.Context, catalog domain.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make(map[string]productRecord, len(catalog))
	for id, p := range catalog {
		if p != nil {
			recs[id] = productToRecord(p)
		}
	}
	return s.writeJSON(ProductsFile, recs)
}

// LoadOrders 读取 orders.json
func (s *FileStore) LoadOrders(_ context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []orderRecord
	if _, err := s.readJSON(OrdersFile, &recs); err != nil {
		if !errors.Is(err, ErrCorruptData) {
			return nil, err
		}
		s.failOpen(OrdersFile, err)
		return []*domain.Order{}, nil
	}

	orders := make([]*domain.Order, 0, len(recs))
	for _, rec := range recs {
		o, err := orderFromRecord(rec, s.loc)
		if err != nil {
			s.failOpen(OrdersFile, fmt.Errorf("%w: %v", ErrCorruptData, err))
			return []*domain.Order{}, nil
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// SaveOrders 覆盖写入 orders.json
func (s *FileStore) SaveOrders(_ context.Context, orders []*domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]orderRecord, 0, len(orders))
	for _, o := range orders {
		rec, err := orderToRecord(o, s.loc)
		if err != nil {
			return fmt.Errorf("encode order %s: %w", o.ID, err)
		}
		recs = append(recs, rec)
	}
	return s.writeJSON(OrdersFile, recs)
}

// LoadRateLimitTable 读取 ip_rate_limit.json。
// 损坏时返回同时匹配 ErrCorruptData 与 limiter.ErrCorruptRecord 的错误，由限流器决定放行。
func (s *FileStore) LoadRateLimitTable(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := map[string]rateLimitRecord{}
	if _, err := s.readJSON(RateLimitFile, &recs); err != nil {
		if errors.Is(err, ErrCorruptData) {
			s.corrupt[RateLimitFile] = true
			return nil, fmt.Errorf("%w: %w", limiter.ErrCorruptRecord, err)
		}
		return nil, err
	}

	table := make(map[string]string, len(recs))
	for origin, rec := range recs {
		table[origin] = rec.LastOrderTime
	}
	return table, nil
}

// SaveRateLimitTable 覆盖写入 ip_rate_limit.json
func (s *FileStore) SaveRateLimitTable(_ context.Context, table map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make(map[string]rateLimitRecord, len(table))
	for origin, raw := range table {
		recs[origin] = rateLimitRecord{LastOrderTime: raw}
	}
	return s.writeJSON(RateLimitFile, recs)
}
