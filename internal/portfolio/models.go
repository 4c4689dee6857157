package portfolio

import (
	"regexp"
	"strings"
	"time"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/ens"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidAddress 校验 0x 开头的 40 位十六进制地址。
func ValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

// NormalizeAddress 将地址统一为小写作为存储主键。
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// RiskLevel 描述授权的风险等级。
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
)

// Strategy 为代理使用的交易策略。
type Strategy string

const (
	StrategyMomentum      Strategy = "momentum"
	StrategyMeanReversion Strategy = "mean-reversion"
	StrategyArbitrage     Strategy = "arbitrage"
	StrategyCustom        Strategy = "custom"
)

// LogStatus 为执行日志的状态。
type LogStatus string

const (
	LogPending   LogStatus = "pending"
	LogExecuted  LogStatus = "executed"
	LogFailed    LogStatus = "failed"
	LogCancelled LogStatus = "cancelled"
	// LogSkipped 表示意图已处理但没有成交，例如找不到跨链路径。
	LogSkipped LogStatus = "skipped"
)

// User 是一个钱包用户。
type User struct {
	Address   string    `json:"address"`
	ENSName   string    `json:"ensName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Mandate 是用户授予代理的交易授权。
type Mandate struct {
	ID              string    `json:"id,omitempty"`
	UserAddress     string    `json:"userAddress"`
	YellowSessionID string    `json:"yellowSessionId"`
	MaxTradeSize    string    `json:"maxTradeSize"`
	AllowedPairs    []string  `json:"allowedPairs"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Signature       string    `json:"signature"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Validate 检查授权字段。
func (m *Mandate) Validate() error {
	var problems []string
	if !ValidAddress(m.UserAddress) {
		problems = append(problems, "userAddress: invalid address")
	}
	if strings.TrimSpace(m.YellowSessionID) == "" {
		problems = append(problems, "yellowSessionId: required")
	}
	if strings.TrimSpace(m.MaxTradeSize) == "" {
		problems = append(problems, "maxTradeSize: required")
	}
	if m.AllowedPairs == nil {
		problems = append(problems, "allowedPairs: required")
	}
	switch m.RiskLevel {
	case RiskConservative, RiskModerate, RiskAggressive:
	default:
		problems = append(problems, "riskLevel: must be conservative, moderate or aggressive")
	}
	if m.ExpiresAt.IsZero() {
		problems = append(problems, "expiresAt: required")
	}
	if strings.TrimSpace(m.Signature) == "" {
		problems = append(problems, "signature: required")
	}
	if len(problems) > 0 {
		return xerrors.New(xerrors.CodeValidation, "Invalid mandate: "+strings.Join(problems, "; "))
	}
	return nil
}

// AgentState 为某个用户的代理运行状态。
type AgentState struct {
	UserAddress      string            `json:"userAddress"`
	IsRunning        bool              `json:"isRunning"`
	Strategy         Strategy          `json:"strategy,omitempty"`
	CurrentPositions map[string]string `json:"currentPositions"`
	TotalPnL         string            `json:"totalPnl"`
	LastUpdated      time.Time         `json:"lastUpdated"`
}

// IntentAction 为代理控制动作。
type IntentAction string

const (
	IntentStart IntentAction = "start"
	IntentStop  IntentAction = "stop"
)

// Intent 为启动或停止代理的请求。
type Intent struct {
	UserAddress string         `json:"userAddress"`
	Action      IntentAction   `json:"action"`
	Strategy    Strategy       `json:"strategy,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Validate 检查意图字段。
func (i *Intent) Validate() error {
	var problems []string
	if !ValidAddress(i.UserAddress) {
		problems = append(problems, "userAddress: invalid address")
	}
	if i.Action != IntentStart && i.Action != IntentStop {
		problems = append(problems, "action: must be start or stop")
	}
	switch i.Strategy {
	case "", StrategyMomentum, StrategyMeanReversion, StrategyArbitrage, StrategyCustom:
	default:
		problems = append(problems, "strategy: unsupported")
	}
	if len(problems) > 0 {
		return xerrors.New(xerrors.CodeValidation, "Invalid intent: "+strings.Join(problems, "; "))
	}
	return nil
}

// ExecutionLog 记录一次代理动作。
type ExecutionLog struct {
	ID          string    `json:"id,omitempty"`
	UserAddress string    `json:"userAddress"`
	Action      string    `json:"action"`
	Pair        string    `json:"pair,omitempty"`
	Side        string    `json:"side,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Price       string    `json:"price,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	Status      LogStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsTrade 判断日志是否为交易记录。
func (l ExecutionLog) IsTrade() bool {
	return l.Action == "trade" || l.Side != ""
}

// PnLSnapshot 为一次收益快照。
type PnLSnapshot struct {
	ID          string    `json:"id,omitempty"`
	UserAddress string    `json:"userAddress"`
	PnL         string    `json:"pnl"`
	PnLPercent  float64   `json:"pnlPercent"`
	SnapshotAt  time.Time `json:"snapshotAt"`
	ENSUpdated  bool      `json:"ensUpdated"`
}

// LogStats 汇总执行日志数量。
type LogStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Skipped int `json:"skipped"`
}

// Failed 返回既未成功也未跳过的日志数。
func (s LogStats) Failed() int {
	return s.Total - s.Success - s.Skipped
}

// SuccessRate 返回百分比成功率，跳过的日志不计入分母。
func (s LogStats) SuccessRate() float64 {
	attempted := s.Total - s.Skipped
	if attempted <= 0 {
		return 0
	}
	return float64(s.Success) / float64(attempted) * 100
}

// TradeRecord 为 update-pnl 附带的成交信息。
type TradeRecord struct {
	Pair   string `json:"pair"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	TxHash string `json:"txHash,omitempty"`
}

// PnLUpdate 为代理上报的收益更新。
type PnLUpdate struct {
	UserAddress string       `json:"userAddress"`
	PnL         string       `json:"pnl"`
	PnLPercent  float64      `json:"pnlPercent"`
	Trade       *TradeRecord `json:"trade,omitempty"`
}

// State 为组合总览。
type State struct {
	User       User              `json:"user"`
	AgentState *AgentState       `json:"agentState"`
	Mandate    *Mandate          `json:"mandate"`
	CurrentPnL string            `json:"currentPnl"`
	Positions  map[string]string `json:"positions"`
	ENSData    *ens.Records      `json:"ensData"`
}

// Positions 为持仓视图。
type Positions struct {
	Positions map[string]string `json:"positions"`
	TotalPnL  string            `json:"totalPnl"`
	IsRunning bool              `json:"isRunning"`
}

// PnLSummary 为收益视图。
type PnLSummary struct {
	CurrentPnL   string     `json:"currentPnl"`
	PnLPercent   float64    `json:"pnlPercent"`
	LastSnapshot *time.Time `json:"lastSnapshot"`
	ENSUpdated   bool       `json:"ensUpdated"`
}

// ActivityFeed 为日志与收益历史的组合视图。
type ActivityFeed struct {
	Logs        []ExecutionLog `json:"logs"`
	PnLHistory  []PnLSnapshot  `json:"pnlHistory"`
	TotalTrades int            `json:"totalTrades"`
	SuccessRate float64        `json:"successRate"`
}

// TradeStats 为交易统计。
type TradeStats struct {
	TotalTrades      int     `json:"totalTrades"`
	SuccessfulTrades int     `json:"successfulTrades"`
	FailedTrades     int     `json:"failedTrades"`
	SkippedTrades    int     `json:"skippedTrades"`
	SuccessRate      float64 `json:"successRate"`
}

// ENSUpdate 为一次 ENS 写入的结果。
type ENSUpdate struct {
	ENSName       string         `json:"ensName"`
	TxHashes      []string       `json:"txHashes"`
	UpdatedFields map[string]any `json:"updatedFields"`
}

// ENSView 为读取到的 ENS 记录。
type ENSView struct {
	ENSName string      `json:"ensName"`
	Records ens.Records `json:"records"`
}
