package clearnode

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "VelocityVault/internal/errors"
)

// 清算节点 RPC 方法名。
const (
	MethodAuthRequest       = "auth_request"
	MethodAuthChallenge     = "auth_challenge"
	MethodAuthVerify        = "auth_verify"
	MethodGetChannels       = "get_channels"
	MethodChannels          = "channels"
	MethodCreateChannel     = "create_channel"
	MethodResizeChannel     = "resize_channel"
	MethodTransfer          = "transfer"
	MethodGetLedgerBalances = "get_ledger_balances"
	MethodError             = "error"
)

// Allowance 表示一项资产额度，金额为整数单位的字符串。
type Allowance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// AuthParams 是 auth_request 的参数。
type AuthParams struct {
	Address     string      `json:"address"`
	SessionKey  string      `json:"session_key"`
	Application string      `json:"application"`
	Allowances  []Allowance `json:"allowances"`
	ExpiresAt   int64       `json:"expires_at"`
	Scope       string      `json:"scope"`
}

// CreateChannelParams 是 create_channel 的参数。
type CreateChannelParams struct {
	ChainID int64  `json:"chain_id"`
	Token   string `json:"token"`
}

// ResizeChannelParams 是 resize_channel 的参数。AllocateAmount 为 6 位定点整数。
type ResizeChannelParams struct {
	ChannelID        string   `json:"channel_id"`
	AllocateAmount   *big.Int `json:"allocate_amount"`
	FundsDestination string   `json:"funds_destination"`
}

// TransferParams 是 transfer 的参数。
type TransferParams struct {
	Destination string      `json:"destination"`
	Allocations []Allowance `json:"allocations"`
}

// Request is one outbound RPC call. It encodes as [id, method, params, timestamp].
type Request struct {
	ID        uint64
	Method    string
	Params    any
	Timestamp int64
}

// MarshalJSON implements json.Marshaler.
func (r Request) MarshalJSON() ([]byte, error) {
	params := r.Params
	if params == nil {
		params = struct{}{}
	}
	return json.Marshal([]any{r.ID, r.Method, params, r.Timestamp})
}

// Frame is the signed envelope written to the socket.
type Frame struct {
	Req json.RawMessage `json:"req"`
	Sig []string        `json:"sig"`
}

// DecodedRequest is the parsed form of an outbound frame.
type DecodedRequest struct {
	ID        uint64
	Method    string
	Params    json.RawMessage
	Timestamp int64
	Payload   json.RawMessage
	Sig       []string
}

func encode(signer Signer, req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "encode "+req.Method)
	}
	frame := Frame{Req: payload, Sig: []string{}}
	if signer != nil {
		sig, err := signer.Sign(payload)
		if err != nil {
			return nil, err
		}
		frame.Sig = append(frame.Sig, hexutil.Encode(sig))
	}
	return json.Marshal(frame)
}

// BuildAuthRequest 构造未签名的鉴权请求，身份在 auth_verify 阶段由钱包签名证明。
func BuildAuthRequest(id uint64, ts int64, params AuthParams) ([]byte, error) {
	if params.Address == "" || params.SessionKey == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "auth request requires address and session key")
	}
	if params.Allowances == nil {
		params.Allowances = []Allowance{}
	}
	return encode(nil, Request{ID: id, Method: MethodAuthRequest, Params: params, Timestamp: ts})
}

// BuildAuthVerify 用钱包签名回应服务端下发的 challenge。
func BuildAuthVerify(signer Signer, id uint64, ts int64, challenge string) ([]byte, error) {
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeConnection, "no wallet account found")
	}
	params := map[string]string{"challenge": challenge}
	return encode(signer, Request{ID: id, Method: MethodAuthVerify, Params: params, Timestamp: ts})
}

// BuildCreateChannel 构造开通通道的请求。
func BuildCreateChannel(signer Signer, id uint64, ts int64, params CreateChannelParams) ([]byte, error) {
	if signer == nil {
		return nil, xerrors.New(xerrors.CodePrecondition, "signer is required")
	}
	return encode(signer, Request{ID: id, Method: MethodCreateChannel, Params: params, Timestamp: ts})
}

// BuildResizeChannel 构造为通道注资的请求。
func BuildResizeChannel(signer Signer, id uint64, ts int64, params ResizeChannelParams) ([]byte, error) {
	if signer == nil {
		return nil, xerrors.New(xerrors.CodePrecondition, "signer is required")
	}
	if params.ChannelID == "" {
		return nil, xerrors.New(xerrors.CodePrecondition, "channel id is required")
	}
	if params.AllocateAmount == nil || params.AllocateAmount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodePrecondition, "allocate amount must be positive")
	}
	return encode(signer, Request{ID: id, Method: MethodResizeChannel, Params: params, Timestamp: ts})
}

// BuildTransfer 构造链下转账请求，nonce 作为帧时间戳发送。
func BuildTransfer(signer Signer, id uint64, nonce int64, params TransferParams) ([]byte, error) {
	if signer == nil {
		return nil, xerrors.New(xerrors.CodePrecondition, "signer is required")
	}
	if params.Destination == "" || len(params.Allocations) == 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "transfer requires destination and allocations")
	}
	return encode(signer, Request{ID: id, Method: MethodTransfer, Params: params, Timestamp: nonce})
}

// BuildGetChannels 请求参与方的通道列表。
func BuildGetChannels(id uint64, ts int64, participant string) ([]byte, error) {
	params := map[string]string{"participant": participant}
	return encode(nil, Request{ID: id, Method: MethodGetChannels, Params: params, Timestamp: ts})
}

// BuildGetLedgerBalances 请求当前会话的账本余额。
func BuildGetLedgerBalances(signer Signer, id uint64, ts int64) ([]byte, error) {
	return encode(signer, Request{ID: id, Method: MethodGetLedgerBalances, Timestamp: ts})
}

// DecodeRequest parses an outbound frame. Test servers and audit tooling use it.
func DecodeRequest(raw []byte) (DecodedRequest, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return DecodedRequest{}, xerrors.Wrap(xerrors.CodeValidation, err, "decode frame")
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(frame.Req, &parts); err != nil || len(parts) < 3 {
		return DecodedRequest{}, xerrors.New(xerrors.CodeValidation, "malformed req array")
	}
	out := DecodedRequest{Params: parts[2], Payload: frame.Req, Sig: frame.Sig}
	if err := json.Unmarshal(parts[0], &out.ID); err != nil {
		return DecodedRequest{}, xerrors.Wrap(xerrors.CodeValidation, err, "decode request id")
	}
	if err := json.Unmarshal(parts[1], &out.Method); err != nil {
		return DecodedRequest{}, xerrors.Wrap(xerrors.CodeValidation, err, "decode method")
	}
	if len(parts) > 3 {
		_ = json.Unmarshal(parts[3], &out.Timestamp)
	}
	return out, nil
}
