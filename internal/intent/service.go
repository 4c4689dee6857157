package intent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"VelocityVault/internal/clearnode"
	xerrors "VelocityVault/internal/errors"
	"VelocityVault/pkg/logger"
)

// Service 负责意图的创建、入队与查询，同时作为监控进程的 IntentSink。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	now        func() time.Time
}

// NewService 构造意图服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries, now: time.Now}
}

// Submit 保存意图并推送到队列；同 ID 的意图已存在时直接返回已有记录。
func (s *Service) Submit(ctx context.Context, in TradeIntent) (*TradeIntent, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "意图服务未初始化")
	}
	if in.Action != "buy" && in.Action != "sell" {
		return nil, xerrors.New(xerrors.CodeValidation, "action 必须为 buy 或 sell")
	}
	if _, err := decimal.NewFromString(in.Amount); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "无效的意图金额")
	}
	if in.Timestamp == 0 {
		in.Timestamp = s.now().UnixMilli()
	}
	if strings.TrimSpace(in.ID) == "" {
		in.ID = NewID(in.User, in.Timestamp)
	}
	in.Status = StatusPending
	in.Attempts = 0
	in.MaxRetries = s.maxRetries

	if err := s.store.Create(ctx, &in); err != nil {
		if stdErrors.Is(err, ErrIntentConflict) {
			return s.store.Get(ctx, in.ID)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, in.ID); err != nil {
		logger.L().Error("意图入队失败", slog.Any("error", err), slog.String("intent_id", in.ID))
		wrapped := xerrors.Wrap(CodeIntentPublish, err, "发布意图到队列失败")
		_ = s.store.MarkFailed(ctx, in.ID, CodeIntentPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("交易意图入队",
		slog.String("intent_id", in.ID),
		slog.String("user", in.User),
		slog.String("action", in.Action),
		slog.String("asset", in.Asset),
		slog.String("amount", in.Amount),
	)
	return &in, nil
}

// SubmitTransfer 实现 clearnode.IntentSink。
func (s *Service) SubmitTransfer(ctx context.Context, notice clearnode.TransferNotice) error {
	if notice.ReceivedAt.IsZero() {
		notice.ReceivedAt = s.now()
	}
	_, err := s.Submit(ctx, FromNotice(notice))
	return err
}

// PendingCount 返回尚未终结的意图数量。
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Pending + stats.Running + stats.Failed, nil
}

// Get 返回指定意图。
func (s *Service) Get(ctx context.Context, id string) (*TradeIntent, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "意图存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回最近的意图。
func (s *Service) List(ctx context.Context, limit int, statuses ...Status) ([]*TradeIntent, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "意图存储未初始化")
	}
	return s.store.List(ctx, limit, statuses...)
}

// Stats 返回状态分布。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeNotConfigured, "意图存储未初始化")
	}
	return s.store.Stats(ctx)
}

// Close 释放存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

var _ clearnode.IntentSink = (*Service)(nil)
