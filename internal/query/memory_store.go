package query

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "PNCT-Query/internal/errors"
)

// MemoryStore 以内存方式保存查询记录，用于测试与单机运行。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, q Query) error {
	if strings.TrimSpace(q.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "查询 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[q.ID]; ok {
		return ErrQueryConflict
	}
	now := m.now().Unix()
	m.records[q.ID] = &Record{Query: q, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	return nil
}

// Get 返回查询记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrQueryNotFound
	}
	return cloneRecord(rec), nil
}

// MarkRunning 将尚未完成的查询标记为运行中。
func (m *MemoryStore) MarkRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrQueryNotFound
	}
	if rec.Done() {
		return ErrQueryConflict
	}
	rec.Status = StatusRunning
	rec.ErrorCode = ""
	rec.LastError = ""
	rec.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 记录提交阶段的失败；已有最终结果的记录保持不变。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrQueryNotFound
	}
	if rec.Done() {
		return nil
	}
	rec.Status = StatusFailed
	rec.ErrorCode = string(code)
	rec.LastError = message
	rec.UpdatedAt = m.now().Unix()
	return nil
}

// SaveResult 实现插入即终态的写入。
func (m *MemoryStore) SaveResult(_ context.Context, q Query, result Result) (bool, error) {
	if strings.TrimSpace(result.QueryID) == "" {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "结果缺少查询 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().Unix()
	rec, ok := m.records[result.QueryID]
	if !ok {
		if q.ID == "" {
			q.ID = result.QueryID
		}
		rec = &Record{Query: q, CreatedAt: now}
		m.records[result.QueryID] = rec
	}
	if rec.Done() {
		return false, nil
	}
	res := cloneResult(result)
	rec.Result = &res
	rec.Status = result.Status
	rec.ErrorCode = result.ErrorCode
	rec.LastError = ""
	rec.UpdatedAt = now
	return true, nil
}

// MarkPublished 标记结果已发布。
func (m *MemoryStore) MarkPublished(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrQueryNotFound
	}
	rec.Published = true
	rec.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合过滤条件的记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		if matchesListFilters(rec, opts) {
			results = append(results, cloneRecord(rec))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.Query.ID > b.Query.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Record{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的记录。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, rec := range m.records {
		if !matchesListFilters(rec, opts) {
			continue
		}
		stats.Total++
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if rec.Result != nil {
			if rec.Result.TimedOut {
				stats.TimedOut++
			}
			if rec.Result.Incomplete {
				stats.Incomplete++
			}
			if !rec.Published {
				stats.Unpublished++
			}
		}
		if rec.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = rec.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (rec.UpdatedAt != 0 && rec.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = rec.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(rec *Record, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if rec.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.ContainerID != "" && (rec.Result == nil || rec.Result.ContainerID != opts.ContainerID) {
		return false
	}
	if opts.UpdatedGTE > 0 && rec.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && rec.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && rec.Done() != *opts.HasResult {
		return false
	}
	if opts.Query != "" {
		needle := strings.ToLower(opts.Query)
		haystack := strings.ToLower(rec.Query.ID + "\n" + rec.Query.Text)
		if rec.Result != nil {
			haystack += "\n" + strings.ToLower(rec.Result.Answer)
		}
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
