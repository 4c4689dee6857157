package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"VelocityVault/internal/config"
	"VelocityVault/internal/intent"
	"VelocityVault/internal/portfolio"
)

const (
	userA = "0x00000000000000000000000000000000000000Aa"
	userB = "0x00000000000000000000000000000000000000bB"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	svc := portfolio.NewService(portfolio.NewMemoryStore())
	server := NewServer(config.ServerConfig{CORSOrigins: []string{"http://localhost:5173"}}, svc, opts...)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, body string) (int, response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func mandateBody(address string) string {
	return `{"mandate":{"userAddress":"` + address + `","yellowSessionId":"sess-1","maxTradeSize":"1000000",
		"allowedPairs":["ETH/USDC"],"riskLevel":"moderate","expiresAt":"2099-01-01T00:00:00Z","signature":"0xsig"}}`
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["version"] != Version {
		t.Fatalf("unexpected health %d %v", resp.StatusCode, body)
	}
}

func TestSessionAndAgentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	status, resp := call(t, ts, http.MethodPost, "/session", mandateBody(userA))
	if status != http.StatusCreated || !resp.Success {
		t.Fatalf("create session: %d %+v", status, resp)
	}
	var mandate portfolio.Mandate
	if err := json.Unmarshal(resp.Data, &mandate); err != nil {
		t.Fatalf("decode mandate: %v", err)
	}
	if mandate.ID == "" || mandate.UserAddress != strings.ToLower(userA) {
		t.Fatalf("unexpected mandate %+v", mandate)
	}

	if status, resp = call(t, ts, http.MethodGet, "/session/"+userA, ""); status != http.StatusOK {
		t.Fatalf("get session: %d %+v", status, resp)
	}

	status, resp = call(t, ts, http.MethodPost, "/intent", `{"userAddress":"`+userA+`","action":"start"}`)
	if status != http.StatusOK {
		t.Fatalf("start agent: %d %+v", status, resp)
	}
	var state portfolio.AgentState
	_ = json.Unmarshal(resp.Data, &state)
	if !state.IsRunning || state.Strategy != portfolio.StrategyMomentum {
		t.Fatalf("unexpected agent state %+v", state)
	}

	status, resp = call(t, ts, http.MethodPost, "/intent", `{"userAddress":"`+userA+`","action":"start"}`)
	if status != http.StatusBadRequest || resp.Error != "Agent is already running" {
		t.Fatalf("duplicate start: %d %+v", status, resp)
	}

	status, resp = call(t, ts, http.MethodPost, "/intent", `{"userAddress":"`+userB+`","action":"start"}`)
	if status != http.StatusForbidden || resp.Error != "No active mandate found. Please create a session first." {
		t.Fatalf("start without mandate: %d %+v", status, resp)
	}

	status, resp = call(t, ts, http.MethodPost, "/intent/update-pnl",
		`{"userAddress":"`+userA+`","pnl":"12.5","pnlPercent":0.125,"trade":{"pair":"ETH/USDC","side":"buy","amount":"1","price":"3000"}}`)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("update pnl: %d %+v", status, resp)
	}

	status, resp = call(t, ts, http.MethodGet, "/state/"+userA, "")
	if status != http.StatusOK {
		t.Fatalf("state: %d %+v", status, resp)
	}
	var overview portfolio.State
	_ = json.Unmarshal(resp.Data, &overview)
	if overview.CurrentPnL != "12.5" || overview.Mandate == nil || overview.ENSData != nil {
		t.Fatalf("unexpected state %+v", overview)
	}

	status, resp = call(t, ts, http.MethodGet, "/logs/"+userA+"/trades", "")
	var trades []portfolio.ExecutionLog
	_ = json.Unmarshal(resp.Data, &trades)
	if status != http.StatusOK || len(trades) != 1 || trades[0].Pair != "ETH/USDC" {
		t.Fatalf("trades: %d %+v", status, trades)
	}

	status, resp = call(t, ts, http.MethodGet, "/logs/"+userA+"/stats", "")
	var stats portfolio.TradeStats
	_ = json.Unmarshal(resp.Data, &stats)
	if status != http.StatusOK || stats.TotalTrades != 2 || stats.SuccessfulTrades != 2 {
		t.Fatalf("stats: %d %+v", status, stats)
	}

	if status, resp = call(t, ts, http.MethodDelete, "/session/"+userA, ""); status != http.StatusOK || !resp.Success {
		t.Fatalf("revoke: %d %+v", status, resp)
	}
	if status, resp = call(t, ts, http.MethodGet, "/session/"+userA, ""); status != http.StatusNotFound || resp.Error != "No active mandate found" {
		t.Fatalf("session after revoke: %d %+v", status, resp)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	ts := newTestServer(t)

	if status, resp := call(t, ts, http.MethodGet, "/state/0x123", ""); status != http.StatusBadRequest || resp.Error != "Invalid address format" {
		t.Fatalf("bad address: %d %+v", status, resp)
	}
	if status, resp := call(t, ts, http.MethodGet, "/state/"+userB, ""); status != http.StatusNotFound || resp.Error != "User not found" {
		t.Fatalf("unknown user: %d %+v", status, resp)
	}
	if status, resp := call(t, ts, http.MethodPost, "/session", `{"mandate":`); status != http.StatusBadRequest || resp.Error != "Invalid request body" {
		t.Fatalf("bad json: %d %+v", status, resp)
	}
	status, resp := call(t, ts, http.MethodPost, "/session", `{"mandate":{"userAddress":"`+userA+`"}}`)
	if status != http.StatusBadRequest || !strings.HasPrefix(resp.Error, "Invalid mandate") {
		t.Fatalf("invalid mandate: %d %+v", status, resp)
	}
	if status, resp := call(t, ts, http.MethodGet, "/ens/nodot", ""); status != http.StatusBadRequest || resp.Error != "Invalid ENS name format" {
		t.Fatalf("bad ens name: %d %+v", status, resp)
	}
	if status, resp := call(t, ts, http.MethodGet, "/intents", ""); status != http.StatusInternalServerError || resp.Success {
		t.Fatalf("intents without queue: %d %+v", status, resp)
	}
}

func TestListIntents(t *testing.T) {
	store := intent.NewMemoryStore()
	svc := intent.NewService(store, intent.NewMemoryQueue(4), 3)
	if _, err := svc.Submit(context.Background(), intent.TradeIntent{User: userA, Action: "buy", Asset: "BTC", Amount: "5"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ts := newTestServer(t, WithIntents(svc))

	status, resp := call(t, ts, http.MethodGet, "/intents?status=pending", "")
	if status != http.StatusOK {
		t.Fatalf("intents: %d %+v", status, resp)
	}
	var body struct {
		Stats   intent.Stats          `json:"stats"`
		Intents []*intent.TradeIntent `json:"intents"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.Pending != 1 || len(body.Intents) != 1 || body.Intents[0].Amount != "5" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestMetricsAndCORS(t *testing.T) {
	ts := newTestServer(t, WithMetrics("/metrics"))
	if status, _ := call(t, ts, http.MethodGet, "/state/0x1", ""); status != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", status)
	}

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), `route="/state/{address}`) {
		t.Fatalf("request metric missing route label:\n%s", raw)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/session", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	preflight.Body.Close()
	if got := preflight.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow origin = %q", got)
	}
}
