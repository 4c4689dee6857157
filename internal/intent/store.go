package intent

import (
	"context"

	xerrors "VelocityVault/internal/errors"
)

// Stats 聚合了队列中意图的状态分布。
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Store 抽象了交易意图的持久化接口。
type Store interface {
	Create(ctx context.Context, intent *TradeIntent) error
	Get(ctx context.Context, id string) (*TradeIntent, error)
	Claim(ctx context.Context, id string) (*TradeIntent, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int, statuses ...Status) ([]*TradeIntent, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
