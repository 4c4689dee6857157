package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "VelocityVault/internal/errors"
)

// CodeChainFailure 表示链上读写失败。
const CodeChainFailure xerrors.Code = "CHAIN_FAILURE"

func init() {
	xerrors.Register(CodeChainFailure, xerrors.Attributes{
		Message:   "chain call failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// Config describes how to construct an EVM client.
type Config struct {
	Name    string
	ChainID int64
	RPCURL  string
	Notes   string
}

// Snapshot summarises network metadata for health reporting.
type Snapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// Backend is the subset of a node connection used by contract bindings.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client wraps one EVM JSON-RPC endpoint.
type Client struct {
	name    string
	notes   string
	eth     *ethclient.Client
	backend Backend

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未配置 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(CodeChainFailure, err, "连接以太坊节点失败", xerrors.WithMetadata("chain", cfg.Name))
	}
	eth := ethclient.NewClient(rpcClient)

	c := &Client{
		name:    cfg.Name,
		notes:   cfg.Notes,
		eth:     eth,
		backend: eth,
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	return c, nil
}

// NewBackendClient wraps an existing backend, such as a simulated chain.
func NewBackendClient(name string, chainID *big.Int, backend Backend) *Client {
	c := &Client{name: name, backend: backend, notes: "custom backend"}
	if chainID != nil {
		c.chainID = new(big.Int).Set(chainID)
	}
	return c
}

// Name returns the registry name of the chain.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Backend exposes the contract backend for bindings.
func (c *Client) Backend() Backend {
	if c == nil {
		return nil
	}
	return c.backend
}

// ChainID 返回链 ID，未配置时向节点查询并缓存。
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未初始化的链客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	if c.eth == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未配置链 ID")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(CodeChainFailure, err, "获取链 ID 失败")
	}
	c.chainID = id
	return new(big.Int).Set(id), nil
}

// Snapshot 读取链 ID 与最新区块高度。
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if c.backend == nil {
		return Snapshot{}, xerrors.New(xerrors.CodeNotConfigured, "客户端缺少链访问后端")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(CodeChainFailure, err, "获取最新区块高度失败")
	}
	return Snapshot{
		Name:        c.name,
		ChainID:     toHexBig(id),
		BlockNumber: toHexBig(head.Number),
		Notes:       c.notes,
	}, nil
}

// Transactor 使用十六进制私钥构造交易签名参数。
func (c *Client) Transactor(ctx context.Context, privateKeyHex string) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "私钥格式错误")
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, id)
	if err != nil {
		return nil, xerrors.Wrap(CodeChainFailure, err, "创建交易签名器失败")
	}
	return opts, nil
}

// WaitMined 等待交易上链并检查回执状态。
func (c *Client) WaitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	if tx == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "交易为空")
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, xerrors.Wrap(CodeChainFailure, err, "等待交易确认失败", xerrors.WithMetadata("tx", tx.Hash().Hex()))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, xerrors.New(CodeChainFailure, fmt.Sprintf("交易执行失败: %s", tx.Hash().Hex()))
	}
	return receipt, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.backend = nil
}

// IsAddress 判断字符串是否为合法的十六进制地址。
func IsAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
