package ens

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const resolverAddr = "0x4444444444444444444444444444444444444444"

type recordKey struct {
	node [32]byte
	key  string
}

// fakeResolver stores text records in memory and applies setText transactions.
type fakeResolver struct {
	bind.ContractBackend

	mu      sync.Mutex
	records map[recordKey]string
	failKey string
	sent    int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{records: map[recordKey]string{}}
}

func (f *fakeResolver) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeResolver) CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method := parsedResolver.Methods["text"]
	if !bytes.Equal(call.Data[:4], method.ID) {
		return nil, errors.New("unknown selector")
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	key := args[1].(string)
	if key == f.failKey {
		return nil, errors.New("execution reverted")
	}
	f.mu.Lock()
	value := f.records[recordKey{node: args[0].([32]byte), key: key}]
	f.mu.Unlock()
	return method.Outputs.Pack(value)
}

func (f *fakeResolver) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeResolver) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeResolver) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.sent), nil
}

func (f *fakeResolver) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeResolver) EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeResolver) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	method := parsedResolver.Methods["setText"]
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}
	key := args[1].(string)
	if key == f.failKey {
		return errors.New("not authorised")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	f.records[recordKey{node: args[0].([32]byte), key: key}] = args[2].(string)
	return nil
}

func transactor(t *testing.T) *bind.TransactOpts {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(11155111))
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}
	return opts
}

func TestNamehashVectors(t *testing.T) {
	cases := map[string]string{
		"":        "0x0000000000000000000000000000000000000000000000000000000000000000",
		"eth":     "0x93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae",
		"foo.eth": "0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f",
		"FOO.eth": "0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f",
	}
	for name, want := range cases {
		if got := common.Hash(Namehash(name)).Hex(); got != want {
			t.Fatalf("Namehash(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestUpdateThenRead(t *testing.T) {
	backend := newFakeResolver()
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	r, err := NewResolver(resolverAddr, backend, transactor(t), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	hashes, err := r.Update(context.Background(), "alice.eth", Stats{
		PnL:         "125.5",
		PnLPercent:  1.255,
		TotalTrades: 7,
		WinRate:     71.428,
		AgentStatus: "running",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(hashes) != len(Keys) {
		t.Fatalf("expected %d hashes, got %d", len(Keys), len(hashes))
	}

	records, err := r.Read(context.Background(), "alice.eth")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := Records{
		PnL:         "125.5",
		PnLPercent:  "1.25",
		TotalTrades: "7",
		WinRate:     "71.43",
		LastUpdated: "2026-02-03T04:05:06.000Z",
		AgentStatus: "running",
	}
	if records != want {
		t.Fatalf("records = %+v, want %+v", records, want)
	}
}

func TestUpdateContinuesAfterFailure(t *testing.T) {
	backend := newFakeResolver()
	backend.failKey = KeyWinRate
	r, err := NewResolver(resolverAddr, backend, transactor(t))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	hashes, err := r.Update(context.Background(), "bob.eth", Stats{PnL: "0", AgentStatus: "stopped"})
	if err == nil {
		t.Fatalf("expected joined error for the failing key")
	}
	if len(hashes) != len(Keys)-1 {
		t.Fatalf("expected %d successful writes, got %d", len(Keys)-1, len(hashes))
	}

	records, err := r.Read(context.Background(), "bob.eth")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if records.WinRate != "" || records.AgentStatus != "stopped" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestReadOnlyResolverRejectsWrites(t *testing.T) {
	r, err := NewResolver(resolverAddr, newFakeResolver(), nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, err := r.SetText(context.Background(), "alice.eth", KeyPnL, "1"); err == nil {
		t.Fatalf("read-only resolver should reject writes")
	}
	if _, err := NewResolver("0x12", newFakeResolver(), nil); err == nil {
		t.Fatalf("invalid address should fail")
	}
}
