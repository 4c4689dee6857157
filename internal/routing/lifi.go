// Package routing queries the LI.FI advanced routes API for cross-chain
// swaps. Only route discovery is implemented; executing a route stays with
// the caller.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"VelocityVault/internal/config"
	xerrors "VelocityVault/internal/errors"
)

// CodeRoutingFailure 表示路由服务调用失败。
const CodeRoutingFailure xerrors.Code = "ROUTING_FAILURE"

func init() {
	xerrors.Register(CodeRoutingFailure, xerrors.Attributes{
		Message:   "routing request failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

const (
	defaultBaseURL = "https://li.quest/v1"
	defaultTimeout = 15 * time.Second
)

// Config 描述 LI.FI 客户端参数。
type Config struct {
	BaseURL    string
	Integrator string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg config.RoutingConfig) Config {
	return Config{BaseURL: cfg.BaseURL, Integrator: cfg.Integrator, Timeout: cfg.Timeout()}
}

// RoutesRequest 对应 /advanced/routes 的请求体。
type RoutesRequest struct {
	FromChainID      int64         `json:"fromChainId"`
	ToChainID        int64         `json:"toChainId"`
	FromTokenAddress string        `json:"fromTokenAddress"`
	ToTokenAddress   string        `json:"toTokenAddress"`
	FromAmount       string        `json:"fromAmount"`
	FromAddress      string        `json:"fromAddress,omitempty"`
	ToAddress        string        `json:"toAddress,omitempty"`
	Options          *RouteOptions `json:"options,omitempty"`
}

// RouteOptions 控制滑点、排序与集成方标识。
type RouteOptions struct {
	Slippage   float64 `json:"slippage,omitempty"`
	Order      string  `json:"order,omitempty"`
	Integrator string  `json:"integrator,omitempty"`
}

// Token is a token reference inside a route.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	ChainID  int64  `json:"chainId"`
}

// Step is one hop of a route.
type Step struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Tool string `json:"tool"`
}

// Route 为 LI.FI 返回的一条候选路径。
type Route struct {
	ID            string   `json:"id"`
	FromChainID   int64    `json:"fromChainId"`
	ToChainID     int64    `json:"toChainId"`
	FromAmount    string   `json:"fromAmount"`
	ToAmount      string   `json:"toAmount"`
	ToAmountMin   string   `json:"toAmountMin"`
	FromAmountUSD string   `json:"fromAmountUSD"`
	ToAmountUSD   string   `json:"toAmountUSD"`
	GasCostUSD    string   `json:"gasCostUSD"`
	FromToken     Token    `json:"fromToken"`
	ToToken       Token    `json:"toToken"`
	Steps         []Step   `json:"steps"`
	Tags          []string `json:"tags"`
}

// Client 通过 HTTP 调用 LI.FI。
type Client struct {
	baseURL    string
	integrator string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建 LI.FI 客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		integrator: strings.TrimSpace(cfg.Integrator),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
	}
}

// Routes 查询候选路径，没有可用路径时返回空切片。
func (c *Client) Routes(ctx context.Context, req RoutesRequest) ([]Route, error) {
	if req.FromChainID == 0 || req.ToChainID == 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "fromChainId and toChainId are required")
	}
	if strings.TrimSpace(req.FromAmount) == "" || req.FromAmount == "0" {
		return nil, xerrors.New(xerrors.CodeValidation, "fromAmount must be positive")
	}
	if req.Options == nil {
		req.Options = &RouteOptions{}
	}
	if req.Options.Integrator == "" {
		req.Options.Integrator = c.integrator
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInternal, err, "encode routes request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/advanced/routes", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(CodeRoutingFailure, err, "构建路由请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-lifi-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(CodeRoutingFailure, err, "请求 LI.FI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(CodeRoutingFailure,
			fmt.Sprintf("LI.FI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithRetryable(resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests),
		)
	}

	var decoded struct {
		Routes []Route `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(CodeRoutingFailure, err, "解析 LI.FI 响应失败")
	}
	if decoded.Routes == nil {
		decoded.Routes = []Route{}
	}
	return decoded.Routes, nil
}
