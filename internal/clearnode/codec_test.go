package clearnode

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "VelocityVault/internal/errors"
)

func TestBuildTransferIsSignedBySessionKey(t *testing.T) {
	key, err := NewSessionSigner()
	if err != nil {
		t.Fatalf("NewSessionSigner: %v", err)
	}
	frame, err := BuildTransfer(key, 12, 1700000000123, TransferParams{
		Destination: "0x0000000000000000000000000000000000000001",
		Allocations: []Allowance{{Asset: "ytest.usd", Amount: "4000000"}},
	})
	if err != nil {
		t.Fatalf("BuildTransfer: %v", err)
	}
	if !strings.HasPrefix(string(frame), `{"req":[12,"transfer",`) {
		t.Fatalf("unexpected frame layout: %s", frame)
	}

	req, err := DecodeRequest(frame)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.ID != 12 || req.Method != MethodTransfer || req.Timestamp != 1700000000123 {
		t.Fatalf("unexpected request %+v", req)
	}
	addr, err := RecoverSigner(req.Payload, req.Sig[0])
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if addr != key.Address() {
		t.Fatalf("recovered %s, want %s", addr.Hex(), key.Address().Hex())
	}
}

func TestTransferRoundTripReducesBalance(t *testing.T) {
	key, _ := NewSessionSigner()
	units := ToUnits(decimal.RequireFromString("4"))
	frame, err := BuildTransfer(key, 3, 1, TransferParams{
		Destination: "0x0000000000000000000000000000000000000001",
		Allocations: []Allowance{{Asset: "ytest.usd", Amount: units.String()}},
	})
	if err != nil {
		t.Fatalf("BuildTransfer: %v", err)
	}
	req, _ := DecodeRequest(frame)
	var params TransferParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}

	confirmation, _ := json.Marshal(map[string]any{"res": []any{req.ID, MethodTransfer, params, 0}})
	ev, err := Dispatch(confirmation)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	ledger := NewLedger()
	ledger.Replace(decimal.RequireFromString("10"))
	ledger.Debit(ev.Amount)
	if got := ledger.Balance().String(); got != "6" {
		t.Fatalf("balance = %s, want 6", got)
	}
	ledger.Debit(ev.Amount)
	ledger.Debit(ev.Amount)
	if !ledger.Balance().IsZero() {
		t.Fatalf("balance should clamp at zero, got %s", ledger.Balance())
	}
}

func TestBuildAuthRequestIsUnsigned(t *testing.T) {
	frame, err := BuildAuthRequest(1, 1, AuthParams{Address: "0xwallet", SessionKey: "0xsession", Application: "VelocityVault"})
	if err != nil {
		t.Fatalf("BuildAuthRequest: %v", err)
	}
	req, err := DecodeRequest(frame)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if len(req.Sig) != 0 {
		t.Fatalf("auth request should not be signed")
	}
	if !strings.Contains(string(req.Params), `"allowances":[]`) {
		t.Fatalf("allowances should encode as empty list: %s", req.Params)
	}
	if _, err := BuildAuthRequest(1, 1, AuthParams{Address: "0xwallet"}); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("missing session key should fail validation, got %v", err)
	}
}

func TestBuildResizeChannelValidates(t *testing.T) {
	key, _ := NewSessionSigner()
	if _, err := BuildResizeChannel(key, 1, 1, ResizeChannelParams{ChannelID: "0xCH1", AllocateAmount: big.NewInt(0)}); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("zero allocation should fail, got %v", err)
	}
	if _, err := BuildResizeChannel(key, 1, 1, ResizeChannelParams{AllocateAmount: big.NewInt(1)}); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("missing channel should fail, got %v", err)
	}
	if _, err := BuildCreateChannel(nil, 1, 1, CreateChannelParams{}); err == nil {
		t.Fatalf("nil signer should fail")
	}
}

func TestAmountConversions(t *testing.T) {
	if got := ToUnits(decimal.RequireFromString("1.5")).String(); got != "1500000" {
		t.Fatalf("ToUnits(1.5) = %s", got)
	}
	if got := ToUnits(decimal.RequireFromString("0.0000019")).String(); got != "1" {
		t.Fatalf("ToUnits should truncate, got %s", got)
	}
	if got := FromUnits("4000000").String(); got != "4" {
		t.Fatalf("FromUnits = %s", got)
	}
	if !FromUnits("junk").IsZero() {
		t.Fatalf("unparsable units should be zero")
	}
	if _, err := ParseAmount("abc"); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := ParseAmount("-1"); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestKeySignerZero(t *testing.T) {
	key, err := NewKeySigner("0x" + testWalletKey)
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	if _, err := key.Sign([]byte("payload")); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	addr := key.Address()
	key.Zero()
	key.Zero()
	if !key.Discarded() || key.Address() != addr {
		t.Fatalf("zeroed key should keep address and report discarded")
	}
	if _, err := key.Sign([]byte("payload")); xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if _, err := NewKeySigner("zz"); err == nil {
		t.Fatalf("invalid hex should fail")
	}
}
