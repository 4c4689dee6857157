// Package velocity is a Go client for the VelocityVault backend API.
package velocity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the VelocityVault API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Mandate is a trading authorization granted to the agent.
type Mandate struct {
	ID              string    `json:"id,omitempty"`
	UserAddress     string    `json:"userAddress"`
	YellowSessionID string    `json:"yellowSessionId"`
	MaxTradeSize    string    `json:"maxTradeSize"`
	AllowedPairs    []string  `json:"allowedPairs"`
	RiskLevel       string    `json:"riskLevel"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Signature       string    `json:"signature"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

// AgentState reports whether the agent runs for a user and its PnL.
type AgentState struct {
	UserAddress      string            `json:"userAddress"`
	IsRunning        bool              `json:"isRunning"`
	Strategy         string            `json:"strategy,omitempty"`
	CurrentPositions map[string]string `json:"currentPositions"`
	TotalPnL         string            `json:"totalPnl"`
	LastUpdated      time.Time         `json:"lastUpdated"`
}

// Trade is an optional fill reported together with a PnL update.
type Trade struct {
	Pair   string `json:"pair"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	TxHash string `json:"txHash,omitempty"`
}

// PnLUpdate is the payload of POST /intent/update-pnl.
type PnLUpdate struct {
	UserAddress string  `json:"userAddress"`
	PnL         string  `json:"pnl"`
	PnLPercent  float64 `json:"pnlPercent"`
	Trade       *Trade  `json:"trade,omitempty"`
}

// ExecutionLog is one agent action.
type ExecutionLog struct {
	ID          string    `json:"id"`
	UserAddress string    `json:"userAddress"`
	Action      string    `json:"action"`
	Pair        string    `json:"pair,omitempty"`
	Side        string    `json:"side,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Price       string    `json:"price,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PnLSnapshot is one point of the PnL history.
type PnLSnapshot struct {
	ID          string    `json:"id"`
	UserAddress string    `json:"userAddress"`
	PnL         string    `json:"pnl"`
	PnLPercent  float64   `json:"pnlPercent"`
	SnapshotAt  time.Time `json:"snapshotAt"`
	ENSUpdated  bool      `json:"ensUpdated"`
}

// ENSRecords mirrors the com.velocity.* text records.
type ENSRecords struct {
	PnL         string `json:"pnl"`
	PnLPercent  string `json:"pnlPercent"`
	TotalTrades string `json:"totalTrades"`
	WinRate     string `json:"winRate"`
	LastUpdated string `json:"lastUpdated"`
	AgentStatus string `json:"agentStatus"`
}

// User is a wallet known to the backend.
type User struct {
	Address   string    `json:"address"`
	ENSName   string    `json:"ensName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// State is the portfolio overview of GET /state/{address}.
type State struct {
	User       User              `json:"user"`
	AgentState *AgentState       `json:"agentState"`
	Mandate    *Mandate          `json:"mandate"`
	CurrentPnL string            `json:"currentPnl"`
	Positions  map[string]string `json:"positions"`
	ENSData    *ENSRecords       `json:"ensData"`
}

// Activity is the feed of GET /logs/{address}.
type Activity struct {
	Logs        []ExecutionLog `json:"logs"`
	PnLHistory  []PnLSnapshot  `json:"pnlHistory"`
	TotalTrades int            `json:"totalTrades"`
	SuccessRate float64        `json:"successRate"`
}

// TradeStats aggregates execution log outcomes.
type TradeStats struct {
	TotalTrades      int     `json:"totalTrades"`
	SuccessfulTrades int     `json:"successfulTrades"`
	FailedTrades     int     `json:"failedTrades"`
	SkippedTrades    int     `json:"skippedTrades"`
	SuccessRate      float64 `json:"successRate"`
}

// ENSUpdate is the result of POST /ens/{address}/update.
type ENSUpdate struct {
	ENSName       string         `json:"ensName"`
	TxHashes      []string       `json:"txHashes"`
	UpdatedFields map[string]any `json:"updatedFields"`
}

// IntentQueue is the agent queue snapshot of GET /intents.
type IntentQueue struct {
	Stats struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Running   int `json:"running"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	} `json:"stats"`
	Intents []struct {
		ID       string `json:"id"`
		User     string `json:"user"`
		Action   string `json:"action"`
		Asset    string `json:"asset"`
		Amount   string `json:"amount"`
		Status   string `json:"status"`
		Attempts int    `json:"attempts"`
	} `json:"intents"`
}

// APIError represents a failed API call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("velocity api error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Health returns the raw health payload.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// CreateSession stores a mandate, revoking the previous one.
func (c *Client) CreateSession(ctx context.Context, mandate Mandate) (*Mandate, error) {
	var out Mandate
	body := map[string]any{"mandate": mandate}
	if err := c.call(ctx, http.MethodPost, "/session", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session returns the active mandate of address.
func (c *Client) Session(ctx context.Context, address string) (*Mandate, error) {
	var out Mandate
	if err := c.call(ctx, http.MethodGet, "/session/"+address, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeSession revokes the active mandate of address.
func (c *Client) RevokeSession(ctx context.Context, address string) error {
	return c.call(ctx, http.MethodDelete, "/session/"+address, nil, nil, nil)
}

// StartAgent starts the agent; an empty strategy selects momentum.
func (c *Client) StartAgent(ctx context.Context, address, strategy string) (*AgentState, error) {
	return c.intent(ctx, map[string]any{"userAddress": address, "action": "start", "strategy": strategy})
}

// StopAgent stops the agent.
func (c *Client) StopAgent(ctx context.Context, address string) (*AgentState, error) {
	return c.intent(ctx, map[string]any{"userAddress": address, "action": "stop"})
}

func (c *Client) intent(ctx context.Context, body map[string]any) (*AgentState, error) {
	if s, ok := body["strategy"].(string); ok && s == "" {
		delete(body, "strategy")
	}
	var out AgentState
	if err := c.call(ctx, http.MethodPost, "/intent", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePnL reports the agent PnL and an optional trade.
func (c *Client) UpdatePnL(ctx context.Context, update PnLUpdate) error {
	return c.call(ctx, http.MethodPost, "/intent/update-pnl", nil, update, nil)
}

// State returns the portfolio overview.
func (c *Client) State(ctx context.Context, address string, includeENS bool) (*State, error) {
	var query url.Values
	if includeENS {
		query = url.Values{"includeEns": {"true"}}
	}
	var out State
	if err := c.call(ctx, http.MethodGet, "/state/"+address, query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logs returns the activity feed.
func (c *Client) Logs(ctx context.Context, address string, limit, offset int) (*Activity, error) {
	var out Activity
	if err := c.call(ctx, http.MethodGet, "/logs/"+address, page(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trades returns trade logs only.
func (c *Client) Trades(ctx context.Context, address string, limit, offset int) ([]ExecutionLog, error) {
	var out []ExecutionLog
	if err := c.call(ctx, http.MethodGet, "/logs/"+address+"/trades", page(limit, offset), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PnLHistory returns PnL snapshots, newest first.
func (c *Client) PnLHistory(ctx context.Context, address string, limit int) ([]PnLSnapshot, error) {
	var out []PnLSnapshot
	if err := c.call(ctx, http.MethodGet, "/logs/"+address+"/pnl-history", page(limit, 0), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns execution statistics.
func (c *Client) Stats(ctx context.Context, address string) (*TradeStats, error) {
	var out TradeStats
	if err := c.call(ctx, http.MethodGet, "/logs/"+address+"/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterENS binds an ENS name to address.
func (c *Client) RegisterENS(ctx context.Context, address, name string) (*User, error) {
	var out User
	if err := c.call(ctx, http.MethodPost, "/ens/"+address+"/register", nil, map[string]string{"ensName": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateENS publishes the current PnL to the user's ENS records.
func (c *Client) UpdateENS(ctx context.Context, address string) (*ENSUpdate, error) {
	var out ENSUpdate
	if err := c.call(ctx, http.MethodPost, "/ens/"+address+"/update", nil, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadENS returns the VelocityVault records of an ENS name.
func (c *Client) ReadENS(ctx context.Context, name string) (*ENSRecords, error) {
	var out struct {
		Records ENSRecords `json:"records"`
	}
	if err := c.call(ctx, http.MethodGet, "/ens/"+name, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Records, nil
}

// Intents returns the agent intent queue, optionally filtered by status.
func (c *Client) Intents(ctx context.Context, limit int, status string) (*IntentQueue, error) {
	query := page(limit, 0)
	if status != "" {
		query.Set("status", status)
	}
	var out IntentQueue
	if err := c.call(ctx, http.MethodGet, "/intents", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func page(limit, offset int) url.Values {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	return query
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		message := env.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
