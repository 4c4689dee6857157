package portfolio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "VelocityVault/internal/errors"
)

// MemoryStore 以内存方式保存组合数据，用于测试与演示部署。
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	users     map[string]*User
	mandates  map[string][]*Mandate
	agents    map[string]*AgentState
	logs      map[string][]*ExecutionLog
	snapshots map[string][]*PnLSnapshot
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		users:     make(map[string]*User),
		mandates:  make(map[string][]*Mandate),
		agents:    make(map[string]*AgentState),
		logs:      make(map[string][]*ExecutionLog),
		snapshots: make(map[string][]*PnLSnapshot),
	}
}

// GetUser 实现 Store 接口。
func (m *MemoryStore) GetUser(_ context.Context, address string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[address]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

// UpsertUser 创建或更新用户，空 ENS 名称不会覆盖已有值。
func (m *MemoryStore) UpsertUser(_ context.Context, user *User) (*User, error) {
	if user == nil || user.Address == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "user address is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	existing, ok := m.users[user.Address]
	if !ok {
		existing = &User{Address: user.Address, CreatedAt: now}
		m.users[user.Address] = existing
	}
	if user.ENSName != "" {
		existing.ENSName = user.ENSName
	}
	existing.UpdatedAt = now
	clone := *existing
	return &clone, nil
}

// CreateMandate 实现 Store 接口。
func (m *MemoryStore) CreateMandate(_ context.Context, mandate *Mandate) (*Mandate, error) {
	if mandate == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "mandate is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := cloneMandate(mandate)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now().UTC()
	}
	m.mandates[clone.UserAddress] = append(m.mandates[clone.UserAddress], clone)
	return cloneMandate(clone), nil
}

// ActiveMandate 返回最近创建且未过期的授权。
func (m *MemoryStore) ActiveMandate(_ context.Context, address string, now time.Time) (*Mandate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active *Mandate
	for _, mandate := range m.mandates[address] {
		if !mandate.ExpiresAt.After(now) {
			continue
		}
		if active == nil || !mandate.CreatedAt.Before(active.CreatedAt) {
			active = mandate
		}
	}
	if active == nil {
		return nil, ErrNotFound
	}
	return cloneMandate(active), nil
}

// RevokeMandates 将所有未过期授权的过期时间设为 now。
func (m *MemoryStore) RevokeMandates(_ context.Context, address string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mandate := range m.mandates[address] {
		if mandate.ExpiresAt.After(now) {
			mandate.ExpiresAt = now
		}
	}
	return nil
}

// GetAgentState 实现 Store 接口。
func (m *MemoryStore) GetAgentState(_ context.Context, address string) (*AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.agents[address]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgentState(state), nil
}

// UpsertAgentState 实现 Store 接口。
func (m *MemoryStore) UpsertAgentState(_ context.Context, state *AgentState) (*AgentState, error) {
	if state == nil || state.UserAddress == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agent state address is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := cloneAgentState(state)
	clone.LastUpdated = m.now().UTC()
	m.agents[clone.UserAddress] = clone
	return cloneAgentState(clone), nil
}

// CreateExecutionLog 实现 Store 接口。
func (m *MemoryStore) CreateExecutionLog(_ context.Context, log *ExecutionLog) (*ExecutionLog, error) {
	if log == nil || log.UserAddress == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "execution log address is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *log
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.Timestamp.IsZero() {
		clone.Timestamp = m.now().UTC()
	}
	m.logs[clone.UserAddress] = append(m.logs[clone.UserAddress], &clone)
	out := clone
	return &out, nil
}

// ListExecutionLogs 按时间倒序分页返回日志。
func (m *MemoryStore) ListExecutionLogs(_ context.Context, address string, limit, offset int) ([]ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]ExecutionLog, 0, len(m.logs[address]))
	for _, log := range m.logs[address] {
		all = append(all, *log)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	return page(all, limit, offset), nil
}

// LogStats 实现 Store 接口。
func (m *MemoryStore) LogStats(_ context.Context, address string) (LogStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := LogStats{}
	for _, log := range m.logs[address] {
		stats.Total++
		switch log.Status {
		case LogExecuted:
			stats.Success++
		case LogSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

// CreatePnLSnapshot 实现 Store 接口。
func (m *MemoryStore) CreatePnLSnapshot(_ context.Context, snapshot *PnLSnapshot) (*PnLSnapshot, error) {
	if snapshot == nil || snapshot.UserAddress == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "snapshot address is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *snapshot
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.SnapshotAt.IsZero() {
		clone.SnapshotAt = m.now().UTC()
	}
	m.snapshots[clone.UserAddress] = append(m.snapshots[clone.UserAddress], &clone)
	out := clone
	return &out, nil
}

// ListPnLHistory 按快照时间倒序返回。
func (m *MemoryStore) ListPnLHistory(_ context.Context, address string, limit int) ([]PnLSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]PnLSnapshot, 0, len(m.snapshots[address]))
	for _, snap := range m.snapshots[address] {
		all = append(all, *snap)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].SnapshotAt.After(all[j].SnapshotAt) })
	return page(all, limit, 0), nil
}

// LatestPnL 实现 Store 接口。
func (m *MemoryStore) LatestPnL(ctx context.Context, address string) (*PnLSnapshot, error) {
	history, _ := m.ListPnLHistory(ctx, address, 1)
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return &history[0], nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneMandate(m *Mandate) *Mandate {
	clone := *m
	if m.AllowedPairs != nil {
		clone.AllowedPairs = make([]string, len(m.AllowedPairs))
		copy(clone.AllowedPairs, m.AllowedPairs)
	}
	return &clone
}

func cloneAgentState(s *AgentState) *AgentState {
	clone := *s
	clone.CurrentPositions = make(map[string]string, len(s.CurrentPositions))
	for k, v := range s.CurrentPositions {
		clone.CurrentPositions[k] = v
	}
	return &clone
}

var _ Store = (*MemoryStore)(nil)
