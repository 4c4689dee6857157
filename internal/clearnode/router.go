package clearnode

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "VelocityVault/internal/errors"
)

// EventKind 标识入站帧被路由成的事件类型。
type EventKind int

const (
	EventUnknown EventKind = iota
	EventRemoteError
	EventChallenge
	EventAuthenticated
	EventChannels
	EventChannelCreated
	EventChannelFunded
	EventTransfer
	EventLedgerBalances
)

var eventKindNames = map[EventKind]string{
	EventUnknown:        "unknown",
	EventRemoteError:    "error",
	EventChallenge:      "challenge",
	EventAuthenticated:  "authenticated",
	EventChannels:       "channels",
	EventChannelCreated: "channel_created",
	EventChannelFunded:  "channel_funded",
	EventTransfer:       "transfer",
	EventLedgerBalances: "ledger_balances",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Channel is one entry of a channels listing.
type Channel struct {
	ChannelID string `json:"channel_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Token     string `json:"token,omitempty"`
}

// LedgerBalance 是 get_ledger_balances 返回的一项资产余额。
type LedgerBalance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Event is the typed form of one inbound frame. RequestID is zero when the
// server did not echo an id.
type Event struct {
	Kind        EventKind
	RequestID   uint64
	Method      string
	Message     string
	Challenge   string
	SessionKey  string
	ChannelID   string
	Channels    []Channel
	Amount      decimal.Decimal
	Destination string
	User        string
	Allocations []Allowance
	Balances    []LedgerBalance
	Raw         json.RawMessage
}

// numeric accepts a JSON number or a quoted number.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = ""
		return nil
	}
	*n = numeric(strings.Trim(s, `"`))
	return nil
}

type inboundFrame struct {
	Res   []json.RawMessage `json:"res"`
	Error json.RawMessage   `json:"error"`
}

type wireAllocation struct {
	Asset  string  `json:"asset"`
	Amount numeric `json:"amount"`
}

type wireChannel struct {
	ChannelID    string  `json:"channel_id"`
	ChannelIDAlt string  `json:"channelId"`
	Status       string  `json:"status"`
	Amount       numeric `json:"amount"`
	Token        string  `json:"token"`
}

func (c wireChannel) toChannel() Channel {
	id := c.ChannelID
	if id == "" {
		id = c.ChannelIDAlt
	}
	return Channel{ChannelID: id, Status: c.Status, Amount: string(c.Amount), Token: c.Token}
}

type wireData struct {
	Error            string           `json:"error"`
	Message          string           `json:"message"`
	ChallengeMessage string           `json:"challenge_message"`
	Challenge        string           `json:"challenge"`
	SessionKey       string           `json:"session_key"`
	ChannelID        string           `json:"channel_id"`
	ChannelIDCamel   string           `json:"channelId"`
	Channels         []wireChannel    `json:"channels"`
	Amount           numeric          `json:"amount"`
	Destination      string           `json:"destination"`
	User             string           `json:"user"`
	Allocations      []wireAllocation `json:"allocations"`
	Transactions     []struct {
		Amount numeric `json:"amount"`
	} `json:"transactions"`
	LedgerBalances []struct {
		Asset  string  `json:"asset"`
		Amount numeric `json:"amount"`
	} `json:"ledger_balances"`
}

func (d wireData) channelID() string {
	if d.ChannelID != "" {
		return d.ChannelID
	}
	return d.ChannelIDCamel
}

// Dispatch 将一帧入站数据解析为事件。无法解析的帧返回 VALIDATION_FAILED，未知方法返回 EventUnknown。
func Dispatch(raw []byte) (Event, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeValidation, err, "malformed clearnode frame")
	}
	if len(frame.Error) > 0 && !bytes.Equal(frame.Error, []byte("null")) {
		return Event{Kind: EventRemoteError, Method: MethodError, Message: errorMessage(frame.Error), Raw: raw}, nil
	}
	if len(frame.Res) < 3 {
		return Event{}, xerrors.New(xerrors.CodeValidation, "clearnode frame has no res array")
	}

	ev := Event{Raw: raw}
	if err := json.Unmarshal(frame.Res[0], &ev.RequestID); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeValidation, err, "invalid request id")
	}
	if err := json.Unmarshal(frame.Res[1], &ev.Method); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeValidation, err, "invalid method")
	}

	payload := frame.Res[2]
	if ev.Method == MethodChannels {
		channels, err := decodeChannels(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Kind = EventChannels
		ev.Channels = channels
		return ev, nil
	}

	data, err := decodeData(payload)
	if err != nil {
		return Event{}, err
	}

	switch ev.Method {
	case MethodError:
		ev.Kind = EventRemoteError
		ev.Message = data.Error
		if ev.Message == "" {
			ev.Message = data.Message
		}
	case MethodAuthChallenge:
		ev.Kind = EventChallenge
		ev.Challenge = data.ChallengeMessage
		if ev.Challenge == "" {
			ev.Challenge = data.Challenge
		}
	case MethodAuthVerify:
		if data.SessionKey == "" {
			return Event{}, xerrors.New(xerrors.CodeValidation, "auth_verify response has no session_key")
		}
		ev.Kind = EventAuthenticated
		ev.SessionKey = data.SessionKey
	case MethodCreateChannel:
		ev.Kind = EventChannelCreated
		ev.ChannelID = data.channelID()
		if ev.ChannelID == "" {
			return Event{}, xerrors.New(xerrors.CodeValidation, "create_channel response has no channel_id")
		}
	case MethodResizeChannel:
		ev.Kind = EventChannelFunded
		ev.ChannelID = data.channelID()
	case MethodTransfer:
		ev.Kind = EventTransfer
		ev.Destination = data.Destination
		ev.User = data.User
		ev.Allocations = make([]Allowance, 0, len(data.Allocations))
		for _, alloc := range data.Allocations {
			ev.Allocations = append(ev.Allocations, Allowance{Asset: alloc.Asset, Amount: string(alloc.Amount)})
		}
		ev.Amount = transferAmount(data)
	case MethodGetLedgerBalances:
		ev.Kind = EventLedgerBalances
		for _, b := range data.LedgerBalances {
			ev.Balances = append(ev.Balances, LedgerBalance{Asset: b.Asset, Amount: string(b.Amount)})
		}
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

// transferAmount 按 amount、allocations 之和、transactions[0] 的顺序取值，并从 6 位整数单位换算。
func transferAmount(data wireData) decimal.Decimal {
	if data.Amount != "" {
		return FromUnits(string(data.Amount))
	}
	if len(data.Allocations) > 0 {
		total := decimal.Zero
		for _, alloc := range data.Allocations {
			total = total.Add(FromUnits(string(alloc.Amount)))
		}
		return total
	}
	if len(data.Transactions) > 0 {
		return FromUnits(string(data.Transactions[0].Amount))
	}
	return decimal.Zero
}

func decodeData(payload json.RawMessage) (wireData, error) {
	var data wireData
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return data, nil
	}
	if payload[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return data, xerrors.Wrap(xerrors.CodeValidation, err, "malformed response data")
		}
		if len(items) == 0 {
			return data, nil
		}
		payload = items[0]
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return data, xerrors.Wrap(xerrors.CodeValidation, err, "malformed response data")
	}
	return data, nil
}

func decodeChannels(payload json.RawMessage) ([]Channel, error) {
	payload = bytes.TrimSpace(payload)
	var list []wireChannel
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeValidation, err, "malformed channels listing")
		}
	} else {
		var data wireData
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeValidation, err, "malformed channels listing")
		}
		list = data.Channels
	}
	out := make([]Channel, 0, len(list))
	for _, ch := range list {
		out = append(out, ch.toChannel())
	}
	return out, nil
}

func errorMessage(raw json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// FirstOpen 返回列表中第一个状态为 open 的通道。
func FirstOpen(channels []Channel) (Channel, bool) {
	for _, ch := range channels {
		if strings.EqualFold(ch.Status, "open") {
			return ch, true
		}
	}
	return Channel{}, false
}
