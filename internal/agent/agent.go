package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"VelocityVault/internal/clearnode"
	"VelocityVault/internal/config"
	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/intent"
	"VelocityVault/internal/portfolio"
	"VelocityVault/internal/routing"
	"VelocityVault/internal/vault"
	"VelocityVault/pkg/logger"
)

// RouteFinder 查询跨链路径。
type RouteFinder interface {
	Routes(ctx context.Context, req routing.RoutesRequest) ([]routing.Route, error)
}

// Recorder 保存代理的执行日志。
type Recorder interface {
	RecordExecution(ctx context.Context, entry portfolio.ExecutionLog) (*portfolio.ExecutionLog, error)
}

// Config 描述代理执行交易时的路由与收益参数。
type Config struct {
	FromChainID int64
	ToChainID   int64
	FromToken   string
	ToToken     string
	Slippage    float64
	Order       string
	ProfitRate  decimal.Decimal
	// Destination 为划出资金与路由收款的代理地址。
	Destination common.Address
}

// ConfigFrom 由文件配置构造代理参数，destination 通常为代理钱包地址。
func ConfigFrom(cfg *config.Config, destination common.Address) Config {
	rate, err := decimal.NewFromString(cfg.Agent.ProfitRate)
	if err != nil {
		rate = decimal.RequireFromString("0.05")
	}
	return Config{
		FromChainID: cfg.Routing.FromChainID,
		ToChainID:   cfg.Routing.ToChainID,
		FromToken:   cfg.Routing.FromToken,
		ToToken:     cfg.Routing.ToToken,
		Slippage:    cfg.Routing.Slippage,
		Order:       cfg.Routing.Order,
		ProfitRate:  rate,
		Destination: destination,
	}
}

// Agent 协调金库划转、路由查询与收益归还，是交易执行的业务核心。
type Agent struct {
	vault       vault.Agent
	routes      RouteFinder
	recorder    Recorder
	cfg         Config
	stepTimeout time.Duration
	log         *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithRecorder 配置执行日志的写入目标。
func WithRecorder(recorder Recorder) Option {
	return func(a *Agent) {
		a.recorder = recorder
	}
}

// WithStepTimeout 设置每次外部调用的超时时间。
func WithStepTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.stepTimeout = timeout
	}
}

// New 创建一个 Agent。
func New(v vault.Agent, routes RouteFinder, cfg Config, opts ...Option) *Agent {
	ag := &Agent{
		vault:  v,
		routes: routes,
		cfg:    cfg,
		log:    logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.cfg.ProfitRate.IsZero() {
		ag.cfg.ProfitRate = decimal.RequireFromString("0.05")
	}
	return ag
}

// Execute 依次完成划出、路由、模拟交易与归还，实现 intent.Executor。
func (a *Agent) Execute(ctx context.Context, in intent.TradeIntent) (*intent.ExecutionResult, error) {
	if a.vault == nil || a.routes == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "代理未配置金库或路由客户端")
	}
	if !common.IsHexAddress(in.User) {
		return nil, xerrors.Newf(xerrors.CodeValidation, "无效的用户地址: %s", in.User)
	}
	amount, err := clearnode.ParseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	user := common.HexToAddress(in.User)
	executionID := vault.ExecutionID(in.ID)
	units := clearnode.ToUnits(amount)
	result := &intent.ExecutionResult{ExecutionID: common.Hash(executionID).Hex()}
	log := a.log.With(slog.String("intent_id", in.ID), slog.String("user", user.Hex()))

	// 划出本金
	stepCtx, cancel := a.stepContext(ctx)
	withdrawTx, err := a.vault.AgentWithdraw(stepCtx, user, units, a.cfg.Destination, executionID)
	cancel()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "金库划出失败")
	}
	result.WithdrawTx = withdrawTx.Hex()
	log.Info("已从金库划出", slog.String("amount", amount.String()), slog.String("tx", result.WithdrawTx))

	// 划出之后的失败不再重试，避免重复划出
	stepCtx, cancel = a.stepContext(ctx)
	routes, err := a.routes.Routes(stepCtx, routing.RoutesRequest{
		FromChainID:      a.cfg.FromChainID,
		ToChainID:        a.cfg.ToChainID,
		FromTokenAddress: a.cfg.FromToken,
		ToTokenAddress:   a.cfg.ToToken,
		FromAmount:       units.String(),
		FromAddress:      a.cfg.Destination.Hex(),
		ToAddress:        a.cfg.Destination.Hex(),
		Options:          &routing.RouteOptions{Slippage: a.cfg.Slippage, Order: a.cfg.Order},
	})
	cancel()
	if err != nil {
		a.record(ctx, in, portfolio.LogFailed, "", err.Error())
		return nil, xerrors.Wrap(routing.CodeRoutingFailure, err, "查询跨链路径失败", xerrors.WithRetryable(false))
	}
	if len(routes) == 0 {
		log.Warn("未找到可用路径")
		result.Skipped = "no routes found"
		a.record(ctx, in, portfolio.LogSkipped, result.WithdrawTx, result.Skipped)
		return result, nil
	}
	best := routes[0]
	result.RouteID = best.ID
	result.RouteSteps = len(best.Steps)
	log.Info("找到跨链路径",
		slog.String("route_id", best.ID),
		slog.Int64("from_chain", best.FromChainID),
		slog.Int64("to_chain", best.ToChainID),
		slog.Int("steps", result.RouteSteps),
	)

	// 路由执行与链上交易为演示模式
	log.Info("演示模式：跳过跨链兑换执行")
	log.Info("演示模式：模拟交易", slog.String("side", strings.ToUpper(in.Action)), slog.String("asset", in.Asset))

	returned := amount.Mul(decimal.NewFromInt(1).Add(a.cfg.ProfitRate)).Round(2)
	profit := returned.Sub(amount)
	result.Returned = returned.StringFixed(2)
	result.Profit = profit.StringFixed(2)

	stepCtx, cancel = a.stepContext(ctx)
	depositTx, err := a.vault.AgentDeposit(stepCtx, user, clearnode.ToUnits(returned), executionID)
	cancel()
	if err != nil {
		a.record(ctx, in, portfolio.LogFailed, result.WithdrawTx, err.Error())
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "归还收益失败", xerrors.WithRetryable(false))
	}
	result.DepositTx = depositTx.Hex()
	log.Info("收益已归还",
		slog.String("original", amount.String()),
		slog.String("returned", result.Returned),
		slog.String("profit", result.Profit),
		slog.String("tx", result.DepositTx),
	)
	a.record(ctx, in, portfolio.LogExecuted, result.DepositTx, "")
	return result, nil
}

func (a *Agent) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.stepTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.stepTimeout)
}

func (a *Agent) record(ctx context.Context, in intent.TradeIntent, status portfolio.LogStatus, txHash, errMsg string) {
	if a.recorder == nil {
		return
	}
	_, err := a.recorder.RecordExecution(ctx, portfolio.ExecutionLog{
		UserAddress: in.User,
		Action:      "trade",
		Pair:        in.Asset + "/USDC",
		Side:        in.Action,
		Amount:      in.Amount,
		TxHash:      txHash,
		Status:      status,
		Error:       errMsg,
	})
	if err != nil {
		a.log.Warn("写入执行日志失败", slog.Any("error", err), slog.String("intent_id", in.ID))
	}
}

var _ intent.Executor = (*Agent)(nil)
