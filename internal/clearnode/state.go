package clearnode

import (
	"github.com/shopspring/decimal"
)

// State 是会话状态机的状态。
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateAuthenticated
	StateChannelPending
	StateChannelOpen
	StateUnreachable
)

var stateNames = [...]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateAuthenticated:  "authenticated",
	StateChannelPending: "channel_pending",
	StateChannelOpen:    "channel_open",
	StateUnreachable:    "unreachable",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// authenticated reports whether s is at or past the authenticated stage.
func (s State) authenticated() bool {
	return s >= StateAuthenticated && s <= StateChannelOpen
}

// Snapshot 是会话状态的值拷贝，供调用方渲染。
type Snapshot struct {
	State           State           `json:"state"`
	SessionKey      string          `json:"sessionKey"`
	ChannelID       string          `json:"channelId"`
	Balance         decimal.Decimal `json:"balance"`
	LedgerBalance   decimal.Decimal `json:"ledgerBalance"`
	Funded          bool            `json:"funded"`
	IsConnected     bool            `json:"isConnected"`
	IsAuthenticated bool            `json:"isAuthenticated"`
	Loading         bool            `json:"loading"`
	LastError       string          `json:"lastError,omitempty"`
	Pending         int             `json:"pending"`
}
