package portfolio

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/ens"
	"VelocityVault/pkg/logger"
)

const (
	defaultLogLimit     = 50
	defaultHistoryLimit = 100
)

// ENSClient 为 ENS 文本记录的读写能力。
type ENSClient interface {
	Update(ctx context.Context, name string, stats ens.Stats) ([]common.Hash, error)
	Read(ctx context.Context, name string) (ens.Records, error)
}

// Service 封装组合相关的业务规则。
type Service struct {
	store          Store
	ens            ENSClient
	initialCapital decimal.Decimal
	now            func() time.Time
	log            *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithENS 配置 ENS 客户端。
func WithENS(client ENSClient) Option {
	return func(s *Service) { s.ens = client }
}

// WithInitialCapital 设置计算收益率的初始资金。
func WithInitialCapital(capital decimal.Decimal) Option {
	return func(s *Service) {
		if capital.IsPositive() {
			s.initialCapital = capital
		}
	}
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 创建 Service。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		initialCapital: decimal.NewFromInt(10000),
		now:            time.Now,
		log:            logger.Named("portfolio"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateSession 保存新的授权，存在有效授权时先撤销。
func (s *Service) CreateSession(ctx context.Context, mandate Mandate) (*Mandate, error) {
	if err := mandate.Validate(); err != nil {
		return nil, err
	}
	address := NormalizeAddress(mandate.UserAddress)
	mandate.UserAddress = address
	mandate.ID = ""
	mandate.CreatedAt = time.Time{}

	if _, err := s.store.UpsertUser(ctx, &User{Address: address}); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if _, err := s.store.ActiveMandate(ctx, address, now); err == nil {
		if err := s.store.RevokeMandates(ctx, address, now); err != nil {
			return nil, err
		}
	} else if !isNotFound(err) {
		return nil, err
	}

	created, err := s.store.CreateMandate(ctx, &mandate)
	if err != nil {
		return nil, err
	}
	s.log.Info("授权已创建", slog.String("user", address), slog.String("mandate_id", created.ID))
	logger.Record(ctx, "mandate.created", slog.String("user", address), slog.String("mandate_id", created.ID))
	return created, nil
}

// ActiveSession 返回用户当前有效的授权。
func (s *Service) ActiveSession(ctx context.Context, address string) (*Mandate, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	mandate, err := s.store.ActiveMandate(ctx, NormalizeAddress(address), s.now().UTC())
	if isNotFound(err) {
		return nil, xerrors.New(xerrors.CodeNotFound, "No active mandate found")
	}
	return mandate, err
}

// RevokeSession 撤销用户所有有效授权。
func (s *Service) RevokeSession(ctx context.Context, address string) error {
	if err := checkAddress(address); err != nil {
		return err
	}
	address = NormalizeAddress(address)
	if err := s.store.RevokeMandates(ctx, address, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("授权已撤销", slog.String("user", address))
	logger.Record(ctx, "mandate.revoked", slog.String("user", address))
	return nil
}

// ApplyIntent 启动或停止用户的交易代理。
func (s *Service) ApplyIntent(ctx context.Context, intent Intent) (*AgentState, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	address := NormalizeAddress(intent.UserAddress)
	if _, err := s.store.ActiveMandate(ctx, address, s.now().UTC()); err != nil {
		if isNotFound(err) {
			return nil, xerrors.New(xerrors.CodeForbidden, "No active mandate found. Please create a session first.")
		}
		return nil, err
	}

	current, err := s.store.GetAgentState(ctx, address)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	var (
		next   *AgentState
		action string
	)
	switch intent.Action {
	case IntentStart:
		if current != nil && current.IsRunning {
			return nil, xerrors.New(xerrors.CodePrecondition, "Agent is already running")
		}
		strategy := intent.Strategy
		if strategy == "" {
			strategy = StrategyMomentum
		}
		next = &AgentState{UserAddress: address, IsRunning: true, Strategy: strategy, CurrentPositions: map[string]string{}, TotalPnL: "0"}
		if current != nil {
			if len(current.CurrentPositions) > 0 {
				next.CurrentPositions = current.CurrentPositions
			}
			if current.TotalPnL != "" {
				next.TotalPnL = current.TotalPnL
			}
		}
		action = "agent_started"
	case IntentStop:
		if current == nil || !current.IsRunning {
			return nil, xerrors.New(xerrors.CodePrecondition, "Agent is not running")
		}
		next = current
		next.IsRunning = false
		action = "agent_stopped"
	}

	saved, err := s.store.UpsertAgentState(ctx, next)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.CreateExecutionLog(ctx, &ExecutionLog{UserAddress: address, Action: action, Status: LogExecuted}); err != nil {
		return nil, err
	}
	s.log.Info("代理状态已更新", slog.String("user", address), slog.String("action", action), slog.String("strategy", string(saved.Strategy)))
	logger.Record(ctx, "agent."+string(intent.Action), slog.String("user", address))
	return saved, nil
}

// UpdatePnL 记录代理上报的收益，可选附带成交日志。
func (s *Service) UpdatePnL(ctx context.Context, update PnLUpdate) error {
	if err := checkAddress(update.UserAddress); err != nil {
		return err
	}
	address := NormalizeAddress(update.UserAddress)
	state, err := s.store.GetAgentState(ctx, address)
	switch {
	case err == nil:
		state.TotalPnL = update.PnL
		if _, err := s.store.UpsertAgentState(ctx, state); err != nil {
			return err
		}
	case !isNotFound(err):
		return err
	}

	if trade := update.Trade; trade != nil {
		if _, err := s.store.CreateExecutionLog(ctx, &ExecutionLog{
			UserAddress: address,
			Action:      "trade",
			Pair:        trade.Pair,
			Side:        trade.Side,
			Amount:      trade.Amount,
			Price:       trade.Price,
			TxHash:      trade.TxHash,
			Status:      LogExecuted,
		}); err != nil {
			return err
		}
	}
	s.log.Info("收益已更新", slog.String("user", address), slog.String("pnl", update.PnL))
	return nil
}

// RecordExecution 写入一条执行日志，供交易代理使用。
func (s *Service) RecordExecution(ctx context.Context, entry ExecutionLog) (*ExecutionLog, error) {
	if err := checkAddress(entry.UserAddress); err != nil {
		return nil, err
	}
	entry.UserAddress = NormalizeAddress(entry.UserAddress)
	if entry.Status == "" {
		entry.Status = LogPending
	}
	return s.store.CreateExecutionLog(ctx, &entry)
}

// State 返回组合总览，includeENS 时附带 ENS 记录。
func (s *Service) State(ctx context.Context, address string, includeENS bool) (*State, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	address = NormalizeAddress(address)
	user, err := s.store.GetUser(ctx, address)
	if err != nil {
		if isNotFound(err) {
			return nil, xerrors.New(xerrors.CodeNotFound, "User not found")
		}
		return nil, err
	}

	var (
		agentState *AgentState
		mandate    *Mandate
		latest     *PnLSnapshot
	)
	now := s.now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agentState, err = optional(s.store.GetAgentState(gctx, address))
		return err
	})
	g.Go(func() error {
		var err error
		mandate, err = optional(s.store.ActiveMandate(gctx, address, now))
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = optional(s.store.LatestPnL(gctx, address))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state := &State{
		User:       *user,
		AgentState: agentState,
		Mandate:    mandate,
		CurrentPnL: currentPnL(latest, agentState),
		Positions:  map[string]string{},
	}
	if agentState != nil && agentState.CurrentPositions != nil {
		state.Positions = agentState.CurrentPositions
	}
	if includeENS && user.ENSName != "" && s.ens != nil {
		records, err := s.ens.Read(ctx, user.ENSName)
		if err != nil {
			s.log.Warn("读取 ENS 数据失败", slog.String("ens", user.ENSName), slog.Any("error", err))
		} else {
			state.ENSData = &records
		}
	}
	return state, nil
}

// Positions 返回持仓视图。
func (s *Service) Positions(ctx context.Context, address string) (*Positions, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	state, err := optional(s.store.GetAgentState(ctx, NormalizeAddress(address)))
	if err != nil {
		return nil, err
	}
	out := &Positions{Positions: map[string]string{}, TotalPnL: "0"}
	if state != nil {
		if state.CurrentPositions != nil {
			out.Positions = state.CurrentPositions
		}
		if state.TotalPnL != "" {
			out.TotalPnL = state.TotalPnL
		}
		out.IsRunning = state.IsRunning
	}
	return out, nil
}

// PnL 返回收益视图。
func (s *Service) PnL(ctx context.Context, address string) (*PnLSummary, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	address = NormalizeAddress(address)
	state, err := optional(s.store.GetAgentState(ctx, address))
	if err != nil {
		return nil, err
	}
	latest, err := optional(s.store.LatestPnL(ctx, address))
	if err != nil {
		return nil, err
	}
	out := &PnLSummary{CurrentPnL: currentPnL(latest, state)}
	if latest != nil {
		snapshotAt := latest.SnapshotAt
		out.PnLPercent = latest.PnLPercent
		out.LastSnapshot = &snapshotAt
		out.ENSUpdated = latest.ENSUpdated
	}
	return out, nil
}

// Activity 并发读取日志、收益历史与统计。
func (s *Service) Activity(ctx context.Context, address string, limit, offset int) (*ActivityFeed, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	address = NormalizeAddress(address)
	if limit <= 0 {
		limit = defaultLogLimit
	}

	feed := &ActivityFeed{}
	var stats LogStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		feed.Logs, err = s.store.ListExecutionLogs(gctx, address, limit, offset)
		return err
	})
	g.Go(func() error {
		var err error
		feed.PnLHistory, err = s.store.ListPnLHistory(gctx, address, limit)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.store.LogStats(gctx, address)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	feed.TotalTrades = stats.Total
	feed.SuccessRate = stats.SuccessRate()
	return feed, nil
}

// Trades 仅返回交易类日志。
func (s *Service) Trades(ctx context.Context, address string, limit, offset int) ([]ExecutionLog, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	logs, err := s.store.ListExecutionLogs(ctx, NormalizeAddress(address), limit, offset)
	if err != nil {
		return nil, err
	}
	trades := make([]ExecutionLog, 0, len(logs))
	for _, log := range logs {
		if log.IsTrade() {
			trades = append(trades, log)
		}
	}
	return trades, nil
}

// PnLHistory 返回收益快照历史。
func (s *Service) PnLHistory(ctx context.Context, address string, limit int) ([]PnLSnapshot, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.ListPnLHistory(ctx, NormalizeAddress(address), limit)
}

// Stats 返回交易统计。
func (s *Service) Stats(ctx context.Context, address string) (*TradeStats, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	stats, err := s.store.LogStats(ctx, NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	return &TradeStats{
		TotalTrades:      stats.Total,
		SuccessfulTrades: stats.Success,
		FailedTrades:     stats.Failed(),
		SkippedTrades:    stats.Skipped,
		SuccessRate:      stats.SuccessRate(),
	}, nil
}

// UpdateENS 将当前收益写入用户的 ENS 记录并保存快照。
func (s *Service) UpdateENS(ctx context.Context, address string) (*ENSUpdate, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	address = NormalizeAddress(address)
	user, err := optional(s.store.GetUser(ctx, address))
	if err != nil {
		return nil, err
	}
	if user == nil || user.ENSName == "" {
		return nil, xerrors.New(xerrors.CodeNotFound, "User not found or no ENS name registered")
	}
	if s.ens == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "Missing ENS config: RPC_URL, PRIVATE_KEY, or ENS_RESOLVER_ADDRESS")
	}

	state, err := optional(s.store.GetAgentState(ctx, address))
	if err != nil {
		return nil, err
	}
	stats, err := s.store.LogStats(ctx, address)
	if err != nil {
		return nil, err
	}

	pnl := "0"
	status := "stopped"
	if state != nil {
		if state.TotalPnL != "" {
			pnl = state.TotalPnL
		}
		if state.IsRunning {
			status = "running"
		}
	}
	pnlValue, err := decimal.NewFromString(pnl)
	if err != nil {
		pnlValue = decimal.Zero
	}
	pnlPercent := pnlValue.Div(s.initialCapital).Mul(decimal.NewFromInt(100)).InexactFloat64()
	winRate := stats.SuccessRate()

	hashes, err := s.ens.Update(ctx, user.ENSName, ens.Stats{
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		TotalTrades: stats.Total,
		WinRate:     winRate,
		AgentStatus: status,
	})
	if err != nil {
		s.log.Warn("部分 ENS 记录更新失败", slog.String("ens", user.ENSName), slog.Any("error", err))
	}

	if _, err := s.store.CreatePnLSnapshot(ctx, &PnLSnapshot{
		UserAddress: address,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		SnapshotAt:  s.now().UTC(),
		ENSUpdated:  true,
	}); err != nil {
		return nil, err
	}

	txHashes := make([]string, 0, len(hashes))
	for _, h := range hashes {
		txHashes = append(txHashes, h.Hex())
	}
	s.log.Info("ENS 记录已更新", slog.String("user", address), slog.String("ens", user.ENSName), slog.Int("tx_count", len(txHashes)))
	return &ENSUpdate{
		ENSName:  user.ENSName,
		TxHashes: txHashes,
		UpdatedFields: map[string]any{
			"pnl":         pnl,
			"pnlPercent":  pnlPercent,
			"totalTrades": stats.Total,
			"winRate":     winRate,
			"agentStatus": status,
		},
	}, nil
}

// ReadENS 读取任意 ENS 名称上的 VelocityVault 记录。
func (s *Service) ReadENS(ctx context.Context, name string) (*ENSView, error) {
	if !strings.Contains(name, ".") {
		return nil, xerrors.New(xerrors.CodeValidation, "Invalid ENS name format")
	}
	if s.ens == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "Missing ENS config: RPC_URL, PRIVATE_KEY, or ENS_RESOLVER_ADDRESS")
	}
	records, err := s.ens.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ENSView{ENSName: name, Records: records}, nil
}

// RegisterENSName 为用户绑定 ENS 名称。
func (s *Service) RegisterENSName(ctx context.Context, address, name string) (*User, error) {
	if err := checkAddress(address); err != nil {
		return nil, err
	}
	if !strings.Contains(name, ".") {
		return nil, xerrors.New(xerrors.CodeValidation, "Invalid ENS name format")
	}
	return s.store.UpsertUser(ctx, &User{Address: NormalizeAddress(address), ENSName: strings.ToLower(strings.TrimSpace(name))})
}

func currentPnL(latest *PnLSnapshot, state *AgentState) string {
	if latest != nil && latest.PnL != "" {
		return latest.PnL
	}
	if state != nil && state.TotalPnL != "" {
		return state.TotalPnL
	}
	return "0"
}

func checkAddress(address string) error {
	if !ValidAddress(address) {
		return xerrors.New(xerrors.CodeValidation, "Invalid address format")
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && stdErrors.Is(err, ErrNotFound)
}

// optional 将 NotFound 转换为 nil 结果。
func optional[T any](v *T, err error) (*T, error) {
	if isNotFound(err) {
		return nil, nil
	}
	return v, err
}
