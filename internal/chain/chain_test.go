package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"VelocityVault/internal/config"
	xerrors "VelocityVault/internal/errors"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// newRPCServer answers eth_chainId and eth_getBlockByNumber like a sepolia node.
func newRPCServer(t *testing.T, chainIDCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result any
		switch req.Method {
		case "eth_chainId":
			atomic.AddInt32(chainIDCalls, 1)
			result = "0xaa36a7"
		case "eth_getBlockByNumber":
			result = map[string]any{
				"number":           "0x10",
				"hash":             "0x" + strings.Repeat("ab", 32),
				"parentHash":       "0x" + strings.Repeat("00", 32),
				"sha3Uncles":       "0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347",
				"miner":            "0x0000000000000000000000000000000000000000",
				"stateRoot":        "0x" + strings.Repeat("00", 32),
				"transactionsRoot": "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
				"receiptsRoot":     "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
				"logsBloom":        "0x" + strings.Repeat("00", 256),
				"difficulty":       "0x0",
				"gasLimit":         "0x1c9c380",
				"gasUsed":          "0x0",
				"timestamp":        "0x65",
				"extraData":        "0x",
				"mixHash":          "0x" + strings.Repeat("00", 32),
				"nonce":            "0x0000000000000000",
			}
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `chains:
  sepolia:
    chain_id: 11155111
    rpc_url: https://rpc.sepolia.example
    vault_address: "0x1111111111111111111111111111111111111111"
  optimism:
    type: EVM
    chain_id: 10
    rpc_url: https://rpc.optimism.example
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write defs: %v", err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(defs.Chains))
	}
	sepolia := defs.Chains["sepolia"]
	if sepolia.Type != "evm" || sepolia.ChainID != 11155111 || sepolia.VaultAddress == "" {
		t.Fatalf("unexpected sepolia definition %+v", sepolia)
	}
	if defs.Chains["optimism"].Type != "evm" {
		t.Fatalf("type should be normalised")
	}

	empty, err := LoadDefinitions("")
	if err != nil || len(empty.Chains) != 0 {
		t.Fatalf("empty path should yield empty definitions")
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("chains:\n  x:\n    chain_id: 1\n"), 0o600)
	if _, err := LoadDefinitions(bad); err == nil {
		t.Fatalf("missing rpc_url should fail")
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	var calls int32
	srv := newRPCServer(t, &calls)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reg, err := NewRegistry(ctx, config.ChainConfig{DefaultChain: "sepolia", RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer reg.Close()

	client, err := reg.DefaultClient()
	if err != nil {
		t.Fatalf("DefaultClient: %v", err)
	}
	if client.Name() != "sepolia" || reg.DefaultName() != "sepolia" {
		t.Fatalf("unexpected default %q", client.Name())
	}

	snap, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ChainID != "0xaa36a7" || snap.BlockNumber != "0x10" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, err := client.ChainID(ctx); err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("chain id should be cached, got %d calls", got)
	}

	opts, err := client.Transactor(ctx, "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("Transactor: %v", err)
	}
	if opts.From.Hex() == "0x0000000000000000000000000000000000000000" {
		t.Fatalf("transactor should carry the key address")
	}
	if _, err := client.Transactor(ctx, "nothex"); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	snaps := reg.Snapshots(ctx)
	if len(snaps) != 1 || snaps[0].Name != "sepolia" {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	_, err := NewRegistry(context.Background(), config.ChainConfig{DefaultChain: "sepolia"})
	if xerrors.CodeOf(err) != xerrors.CodeNotConfigured {
		t.Fatalf("expected NOT_CONFIGURED, got %v", err)
	}
	if !IsAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238") || IsAddress("0x123") {
		t.Fatalf("address validation mismatch")
	}
}
