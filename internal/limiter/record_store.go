package limiter

import (
	"context"
	"errors"
	"sync"
)

// ErrCorruptRecord 底层记录表整体无法解析
var ErrCorruptRecord = errors.New("corrupt rate limit record")

// MemoryRecordStore 进程内记录，重启后丢失
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]string
}

// NewMemoryRecordStore 创建内存记录存储
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]string)}
}

func (s *MemoryRecordStore) Get(_ context.Context, origin string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.records[origin]
	return raw, ok, nil
}

func (s *MemoryRecordStore) Put(_ context.Context, origin, raw string) error {
	s.mu.Lock()
	s.records[origin] = raw
	s.mu.Unlock()
	return nil
}

// TableRepository 以整表读写的方式持久化下单记录（来源 → 时间字符串）。
// 数据无法解析时 Load 返回包装了 ErrCorruptRecord 的错误。
type TableRepository interface {
	LoadRateLimitTable(ctx context.Context) (map[string]string, error)
	SaveRateLimitTable(ctx context.Context, table map[string]string) error
}

// TableRecordStore 把整表仓储适配为 RecordStore，每次操作都是完整的读-改-写
type TableRecordStore struct {
	mu   sync.Mutex
	repo TableRepository
}

// NewTableRecordStore 创建整表适配器
func NewTableRecordStore(repo TableRepository) *TableRecordStore {
	return &TableRecordStore{repo: repo}
}

func (s *TableRecordStore) Get(ctx context.Context, origin string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.repo.LoadRateLimitTable(ctx)
	if err != nil {
		return "", false, err
	}
	raw, ok := table[origin]
	return raw, ok, nil
}

// Put 覆盖来源的记录。表已损坏时从空表重新开始，损坏的数据由仓储负责备份。
func (s *TableRecordStore) Put(ctx context.Context, origin, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.repo.LoadRateLimitTable(ctx)
	if err != nil {
		if !errors.Is(err, ErrCorruptRecord) {
			return err
		}
		table = nil
	}
	if table == nil {
		table = make(map[string]string)
	}
	table[origin] = raw
	return s.repo.SaveRateLimitTable(ctx, table)
}
