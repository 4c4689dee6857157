package intent

import (
	"fmt"
	"strings"

	"VelocityVault/internal/clearnode"
	xerrors "VelocityVault/internal/errors"
)

// Status 表示交易意图在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ZeroAddress 为转账未携带用户时使用的默认用户。
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// ExecutionResult 记录一次意图执行的链上与路由结果。
type ExecutionResult struct {
	ExecutionID string `json:"execution_id"`
	WithdrawTx  string `json:"withdraw_tx,omitempty"`
	RouteID     string `json:"route_id,omitempty"`
	RouteSteps  int    `json:"route_steps"`
	Returned    string `json:"returned,omitempty"`
	Profit      string `json:"profit,omitempty"`
	DepositTx   string `json:"deposit_tx,omitempty"`
	Skipped     string `json:"skipped,omitempty"`
}

// TradeIntent 是由清算节点转账确认生成、交给代理执行的交易意图。
type TradeIntent struct {
	ID         string           `json:"id"`
	User       string           `json:"user"`
	Action     string           `json:"action"`
	Asset      string           `json:"asset"`
	Amount     string           `json:"amount"`
	Timestamp  int64            `json:"timestamp"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// NewID 按 "<user>-<unix 毫秒>" 生成意图 ID。
func NewID(user string, timestampMillis int64) string {
	return fmt.Sprintf("%s-%d", user, timestampMillis)
}

// FromNotice 将监控进程的转账通知转换为待执行意图。
func FromNotice(notice clearnode.TransferNotice) TradeIntent {
	user := strings.TrimSpace(notice.User)
	if user == "" {
		user = ZeroAddress
	}
	action := notice.Action
	if action == "" {
		action = "buy"
	}
	asset := notice.Asset
	if asset == "" {
		asset = "BTC"
	}
	amount := notice.Amount
	if amount == "" {
		amount = "0"
	}
	ts := notice.ReceivedAt.UnixMilli()
	return TradeIntent{
		ID:        NewID(user, ts),
		User:      user,
		Action:    action,
		Asset:     asset,
		Amount:    amount,
		Timestamp: ts,
		Status:    StatusPending,
	}
}

const (
	CodeIntentNotFound   xerrors.Code = "INTENT_NOT_FOUND"
	CodeIntentConflict   xerrors.Code = "INTENT_CONFLICT"
	CodeIntentCompleted  xerrors.Code = "INTENT_COMPLETED"
	CodeIntentExhausted  xerrors.Code = "INTENT_RETRIES_EXHAUSTED"
	CodeIntentPublish    xerrors.Code = "INTENT_PUBLISH_FAILED"
	CodeIntentProcessing xerrors.Code = "INTENT_PROCESSING_FAILED"
)

var (
	// ErrIntentNotFound 表示意图不存在或已清理。
	ErrIntentNotFound = xerrors.New(CodeIntentNotFound, "trade intent not found")
	// ErrIntentConflict 表示意图正在执行或 ID 重复。
	ErrIntentConflict = xerrors.New(CodeIntentConflict, "trade intent conflict")
	// ErrIntentCompleted 表示意图已经执行成功。
	ErrIntentCompleted = xerrors.New(CodeIntentCompleted, "trade intent already completed")
	// ErrIntentExhausted 表示重试次数已耗尽。
	ErrIntentExhausted = xerrors.New(CodeIntentExhausted, "trade intent retries exhausted")
)

func init() {
	xerrors.Register(CodeIntentNotFound, xerrors.Attributes{Message: "trade intent not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeIntentConflict, xerrors.Attributes{Message: "trade intent conflict", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeIntentCompleted, xerrors.Attributes{Message: "trade intent already completed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeIntentExhausted, xerrors.Attributes{Message: "trade intent retries exhausted", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeIntentPublish, xerrors.Attributes{Message: "failed to publish trade intent", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true})
	xerrors.Register(CodeIntentProcessing, xerrors.Attributes{Message: "trade intent execution failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
}

func cloneIntent(in *TradeIntent) *TradeIntent {
	clone := *in
	if in.Result != nil {
		result := *in.Result
		clone.Result = &result
	}
	return &clone
}
