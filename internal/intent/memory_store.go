package intent

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "VelocityVault/internal/errors"
)

// MemoryStore 以内存方式保存交易意图。
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*TradeIntent
	now     func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*TradeIntent), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, intent *TradeIntent) error {
	if intent == nil || intent.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "意图 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.ID]; ok {
		return ErrIntentConflict
	}
	now := m.now().UnixMilli()
	if intent.CreatedAt == 0 {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	m.intents[intent.ID] = cloneIntent(intent)
	return nil
}

// Get 返回意图副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*TradeIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return cloneIntent(intent), nil
}

// Claim 将意图标记为执行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*TradeIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	switch intent.Status {
	case StatusSucceeded:
		return cloneIntent(intent), ErrIntentCompleted
	case StatusRunning:
		return cloneIntent(intent), ErrIntentConflict
	}
	if intent.Attempts >= intent.MaxRetries {
		return cloneIntent(intent), ErrIntentExhausted
	}
	intent.Status = StatusRunning
	intent.Attempts++
	intent.LastError = ""
	intent.ErrorCode = ""
	intent.UpdatedAt = m.now().UnixMilli()
	return cloneIntent(intent), nil
}

// MarkSucceeded 记录执行结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	intent.Status = StatusSucceeded
	intent.Result = &result
	intent.LastError = ""
	intent.ErrorCode = ""
	intent.UpdatedAt = m.now().UnixMilli()
	return nil
}

// MarkFailed 标记失败；terminal 时耗尽剩余重试次数。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	intent.Status = StatusFailed
	intent.LastError = lastError
	intent.ErrorCode = string(code)
	if terminal && intent.Attempts < intent.MaxRetries {
		intent.Attempts = intent.MaxRetries
	}
	intent.UpdatedAt = m.now().UnixMilli()
	return nil
}

// Delete 清理意图，不存在时返回 ErrIntentNotFound。
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[id]; !ok {
		return ErrIntentNotFound
	}
	delete(m.intents, id)
	return nil
}

// List 按更新时间倒序返回意图。
func (m *MemoryStore) List(_ context.Context, limit int, statuses ...Status) ([]*TradeIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*TradeIntent, 0, len(m.intents))
	for _, intent := range m.intents {
		if !matchesStatus(intent.Status, statuses) {
			continue
		}
		results = append(results, cloneIntent(intent))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Stats 统计各状态的意图数量。
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats Stats
	for _, intent := range m.intents {
		stats.Total++
		switch intent.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesStatus(status Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
