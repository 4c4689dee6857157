package intent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/observability/alerting"
	"VelocityVault/internal/observability/metrics"
	"VelocityVault/pkg/logger"
)

// Executor 定义了处理器所需的代理执行能力。
type Executor interface {
	Execute(ctx context.Context, intent TradeIntent) (*ExecutionResult, error)
}

// Processor 负责从队列消费意图并交给代理执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	retain      bool
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRetention 为 true 时执行完成的意图保留在存储中，默认处理后即删除。
func WithRetention(retain bool) ProcessorOption {
	return func(p *Processor) {
		p.retain = retain
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动意图处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeNotConfigured, "未配置意图消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单个意图 ID。
func (p *Processor) Handle(ctx context.Context, intentID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeNotConfigured, "处理器未初始化")
	}
	intent, err := p.store.Claim(ctx, intentID)
	if err != nil {
		if stdErrors.Is(err, ErrIntentNotFound) || stdErrors.Is(err, ErrIntentCompleted) ||
			stdErrors.Is(err, ErrIntentExhausted) || stdErrors.Is(err, ErrIntentConflict) {
			p.logDebug("跳过意图", slog.String("intent_id", intentID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取意图失败", slog.Any("error", err), slog.String("intent_id", intentID))
		p.emitAlert(ctx, &TradeIntent{ID: intentID}, CodeIntentProcessing, err, "claim")
		return err
	}

	started := p.now()
	result, execErr := p.executor.Execute(ctx, *intent)
	metrics.IntentDuration.Observe(p.now().Sub(started).Seconds())
	if execErr != nil {
		return p.handleExecutionFailure(ctx, intent, execErr)
	}

	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := p.store.MarkSucceeded(ctx, intent.ID, record); err != nil {
		logger.L().Error("标记意图成功状态失败", slog.Any("error", err), slog.String("intent_id", intent.ID))
		if storeErr := p.store.MarkFailed(ctx, intent.ID, CodeIntentProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("intent_id", intent.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, intent.ID); pubErr != nil {
			return xerrors.Wrap(CodeIntentPublish, pubErr, fmt.Sprintf("意图 %s 在标记成功失败后重投失败", intent.ID))
		}
		return nil
	}
	metrics.IntentsTotal.WithLabelValues(string(StatusSucceeded)).Inc()
	logger.Audit().Info("意图执行成功",
		slog.String("intent_id", intent.ID),
		slog.String("user", intent.User),
		slog.String("amount", intent.Amount),
		slog.String("returned", record.Returned),
		slog.String("profit", record.Profit),
		slog.String("skipped", record.Skipped),
	)
	p.cleanup(ctx, intent.ID)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, intent *TradeIntent, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeIntentProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := intent.Attempts >= intent.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, intent.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记意图失败状态出错", slog.Any("error", storeErr), slog.String("intent_id", intent.ID))
		return storeErr
	}
	logger.Audit().Warn("意图执行失败",
		slog.String("intent_id", intent.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", intent.Attempts),
		slog.Int("max_retries", intent.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	if !retryable {
		stage = "non_retryable"
	}
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, intent, code, execErr, stage)
	}

	if !terminal {
		if pubErr := p.producer.Publish(ctx, intent.ID); pubErr != nil {
			return xerrors.Wrap(CodeIntentPublish, pubErr, fmt.Sprintf("意图 %s 重投失败", intent.ID))
		}
		p.logDebug("意图已重新排队", slog.String("intent_id", intent.ID), slog.Int("attempts", intent.Attempts))
		return nil
	}
	metrics.IntentsTotal.WithLabelValues(string(StatusFailed)).Inc()
	p.cleanup(ctx, intent.ID)
	return nil
}

func (p *Processor) cleanup(ctx context.Context, intentID string) {
	if p.retain {
		return
	}
	if err := p.store.Delete(ctx, intentID); err != nil && !stdErrors.Is(err, ErrIntentNotFound) {
		logger.L().Warn("清理意图失败", slog.Any("error", err), slog.String("intent_id", intentID))
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, intent *TradeIntent, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || intent == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		IntentID:   intent.ID,
		Attempts:   intent.Attempts,
		MaxRetries: intent.MaxRetries,
		Metadata:   metadata,
		OccurredAt: p.now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("intent_id", intent.ID),
			slog.String("stage", stage),
		)
	}
}
