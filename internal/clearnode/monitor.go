package clearnode

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/observability/metrics"
	"VelocityVault/pkg/logger"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// TransferNotice 描述一笔由清算节点确认的转账，交给代理生成交易意图。
type TransferNotice struct {
	User        string
	Action      string
	Asset       string
	Amount      string
	Destination string
	RequestID   uint64
	ReceivedAt  time.Time
}

// IntentSink 接收监控进程产生的转账通知。
type IntentSink interface {
	SubmitTransfer(ctx context.Context, notice TransferNotice) error
	PendingCount(ctx context.Context) (int, error)
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Backoff        *Backoff
	HealthInterval time.Duration
	Logger         *slog.Logger
}

// MonitorStatus is a point-in-time view of the monitor.
type MonitorStatus struct {
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	Notices   int       `json:"notices"`
	Since     time.Time `json:"since"`
}

// Monitor 维持到清算节点的长连接，断线后按指数退避重连，超过重试上限进入 Unreachable。
type Monitor struct {
	session *Session
	wallet  Signer
	sink    IntentSink
	policy  *Backoff
	health  time.Duration
	log     *slog.Logger
	notices chan TransferNotice
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	status MonitorStatus
}

// NewMonitor 包装一个会话。wallet 为空时使用临时生成的密钥作为身份。
func NewMonitor(session *Session, wallet Signer, sink IntentSink, opts MonitorOptions) (*Monitor, error) {
	if session == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "monitor requires a session")
	}
	if sink == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "monitor requires an intent sink")
	}
	if wallet == nil {
		ephemeral, err := NewSessionSigner()
		if err != nil {
			return nil, err
		}
		wallet = ephemeral
	}
	policy := opts.Backoff
	if policy == nil {
		policy = NewBackoff(time.Second, time.Minute, 0.5, 8)
	}
	health := opts.HealthInterval
	if health <= 0 {
		health = time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("monitor")
	}

	m := &Monitor{
		session: session,
		wallet:  wallet,
		sink:    sink,
		policy:  policy,
		health:  health,
		log:     log,
		notices: make(chan TransferNotice, 64),
		sleep:   sleepWithContext,
		status:  MonitorStatus{State: StateDisconnected, Since: time.Now()},
	}
	session.Observe(m.onEvent)
	return m, nil
}

// Status returns the current monitor status.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	st.State = m.session.State()
	return st
}

// Run 阻塞直到 ctx 结束或重试耗尽。ctx 结束时返回 nil，重试耗尽时返回 UNREACHABLE 错误。
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("监控进程启动", slog.String("agent", m.wallet.Address().Hex()))
	ticker := time.NewTicker(m.health)
	defer ticker.Stop()

	retry := m.policy.Sequence()
	failures := 0
	for {
		if ctx.Err() != nil {
			m.session.Disconnect()
			return nil
		}
		err := m.connect(ctx)
		if err == nil {
			failures = 0
			retry.Reset()
			m.recordFailure(0, "")
			metrics.Reconnects.WithLabelValues("success").Inc()
			m.log.Info("已连接清算节点，开始监听交易意图")
			err = m.serve(ctx, ticker.C)
		} else {
			metrics.Reconnects.WithLabelValues("failure").Inc()
		}
		if ctx.Err() != nil {
			m.session.Disconnect()
			return nil
		}

		failures++
		m.recordFailure(failures, xerrors.MessageOf(err))
		delay := retry.NextBackOff()
		if delay == backoff.Stop {
			reason := "clearnode unreachable after retries"
			m.session.MarkUnreachable(reason)
			m.log.Error("重连次数耗尽", slog.Int("failures", failures), slog.Any("error", err))
			return xerrors.Wrap(xerrors.CodeUnreachable, err, reason,
				xerrors.WithMetadata("failures", strconv.Itoa(failures)))
		}
		m.log.Warn("清算节点连接断开，准备重连",
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := m.sleep(ctx, delay); err != nil {
			m.session.Disconnect()
			return nil
		}
	}
}

func (m *Monitor) connect(ctx context.Context) error {
	call, err := m.session.Connect(ctx, m.wallet)
	if err != nil {
		return err
	}
	if _, err := call.Wait(ctx); err != nil {
		m.session.Disconnect()
		return err
	}
	return nil
}

func (m *Monitor) serve(ctx context.Context, health <-chan time.Time) error {
	done := m.session.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			msg := m.session.LastError()
			if msg == "" {
				msg = "connection closed"
			}
			return xerrors.New(xerrors.CodeConnection, msg)
		case notice := <-m.notices:
			m.submit(ctx, notice)
		case <-health:
			m.reportHealth(ctx)
		}
	}
}

func (m *Monitor) submit(ctx context.Context, notice TransferNotice) {
	m.log.Info("检测到交易意图",
		slog.String("user", notice.User),
		slog.String("destination", notice.Destination),
		slog.String("amount", notice.Amount))
	if err := m.sink.SubmitTransfer(ctx, notice); err != nil {
		m.log.Error("提交交易意图失败", slog.Any("error", err))
		return
	}
	m.mu.Lock()
	m.status.Notices++
	m.mu.Unlock()
}

func (m *Monitor) reportHealth(ctx context.Context) {
	pending, err := m.sink.PendingCount(ctx)
	if err != nil {
		m.log.Warn("统计待处理意图失败", slog.Any("error", err))
		return
	}
	m.log.Info("代理运行正常", slog.Int("pending_intents", pending))
}

func (m *Monitor) onEvent(ev Event) {
	if ev.Kind != EventTransfer {
		return
	}
	user := ev.User
	if user == "" {
		user = zeroAddress
	}
	notice := TransferNotice{
		User:        user,
		Action:      "buy",
		Asset:       "BTC",
		Amount:      ev.Amount.String(),
		Destination: ev.Destination,
		RequestID:   ev.RequestID,
		ReceivedAt:  time.Now(),
	}
	select {
	case m.notices <- notice:
	default:
		m.log.Warn("交易意图缓冲已满，丢弃通知", slog.Uint64("request_id", ev.RequestID))
	}
}

func (m *Monitor) recordFailure(failures int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Failures = failures
	m.status.LastError = msg
	m.status.Since = time.Now()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
