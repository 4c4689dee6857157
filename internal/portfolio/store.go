package portfolio

import (
	"context"
	"time"

	xerrors "VelocityVault/internal/errors"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "record not found")

// Store 抽象了组合数据的持久化接口。地址参数均为小写。
type Store interface {
	GetUser(ctx context.Context, address string) (*User, error)
	UpsertUser(ctx context.Context, user *User) (*User, error)

	CreateMandate(ctx context.Context, mandate *Mandate) (*Mandate, error)
	ActiveMandate(ctx context.Context, address string, now time.Time) (*Mandate, error)
	RevokeMandates(ctx context.Context, address string, now time.Time) error

	GetAgentState(ctx context.Context, address string) (*AgentState, error)
	UpsertAgentState(ctx context.Context, state *AgentState) (*AgentState, error)

	CreateExecutionLog(ctx context.Context, log *ExecutionLog) (*ExecutionLog, error)
	ListExecutionLogs(ctx context.Context, address string, limit, offset int) ([]ExecutionLog, error)
	LogStats(ctx context.Context, address string) (LogStats, error)

	CreatePnLSnapshot(ctx context.Context, snapshot *PnLSnapshot) (*PnLSnapshot, error)
	ListPnLHistory(ctx context.Context, address string, limit int) ([]PnLSnapshot, error)
	LatestPnL(ctx context.Context, address string) (*PnLSnapshot, error)

	Close() error
}
