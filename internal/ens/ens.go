// Package ens reads and writes VelocityVault performance records on an ENS public resolver.
package ens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"VelocityVault/internal/chain"
	xerrors "VelocityVault/internal/errors"
	"VelocityVault/pkg/logger"
)

// VelocityVault 写入 ENS 的文本记录键。
const (
	KeyPnL         = "com.velocity.pnl"
	KeyPnLPercent  = "com.velocity.pnl_percent"
	KeyTotalTrades = "com.velocity.total_trades"
	KeyWinRate     = "com.velocity.win_rate"
	KeyLastUpdated = "com.velocity.last_updated"
	KeyAgentStatus = "com.velocity.agent_status"
)

// Keys lists the records in write order.
var Keys = []string{KeyPnL, KeyPnLPercent, KeyTotalTrades, KeyWinRate, KeyLastUpdated, KeyAgentStatus}

const resolverABI = `[
	{"type":"function","name":"setText","stateMutability":"nonpayable","inputs":[{"name":"node","type":"bytes32"},{"name":"key","type":"string"},{"name":"value","type":"string"}],"outputs":[]},
	{"type":"function","name":"text","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"},{"name":"key","type":"string"}],"outputs":[{"name":"","type":"string"}]}
]`

var parsedResolver = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(resolverABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Namehash 按 EIP-137 计算名称节点，名称按小写处理。
func Namehash(name string) [32]byte {
	var node [32]byte
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		copy(node[:], crypto.Keccak256(node[:], label))
	}
	return node
}

// Stats 是写入 ENS 的业绩数据。
type Stats struct {
	PnL         string
	PnLPercent  float64
	TotalTrades int
	WinRate     float64
	AgentStatus string
}

// Records 为读取到的六条文本记录，读取失败的键为空串。
type Records struct {
	PnL         string `json:"pnl"`
	PnLPercent  string `json:"pnlPercent"`
	TotalTrades string `json:"totalTrades"`
	WinRate     string `json:"winRate"`
	LastUpdated string `json:"lastUpdated"`
	AgentStatus string `json:"agentStatus"`
}

// Waiter blocks until a transaction is mined.
type Waiter interface {
	WaitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error)
}

// Resolver 绑定 ENS Public Resolver 的 text/setText。
type Resolver struct {
	contract *bind.BoundContract
	opts     *bind.TransactOpts
	waiter   Waiter
	now      func() time.Time
	log      *slog.Logger
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithWaiter makes SetText wait for the receipt.
func WithWaiter(w Waiter) Option {
	return func(r *Resolver) { r.waiter = w }
}

// WithClock overrides the clock used for last_updated.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver 创建解析器绑定，opts 为 nil 时只读。
func NewResolver(address string, backend bind.ContractBackend, opts *bind.TransactOpts, options ...Option) (*Resolver, error) {
	if !chain.IsAddress(address) {
		return nil, xerrors.New(xerrors.CodeValidation, "invalid resolver address", xerrors.WithMetadata("address", address))
	}
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "resolver backend is required")
	}
	r := &Resolver{
		contract: bind.NewBoundContract(common.HexToAddress(address), parsedResolver, backend, backend, backend),
		opts:     opts,
		now:      time.Now,
		log:      logger.Named("ens"),
	}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Text 读取一条文本记录。
func (r *Resolver) Text(ctx context.Context, name, key string) (string, error) {
	var out []any
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "text", Namehash(name), key); err != nil {
		return "", xerrors.Wrap(chain.CodeChainFailure, err, "read ens text failed", xerrors.WithMetadata("key", key))
	}
	if len(out) == 0 {
		return "", nil
	}
	value, _ := out[0].(string)
	return value, nil
}

// SetText 写入一条文本记录，调用方钱包必须是名称的管理者。
func (r *Resolver) SetText(ctx context.Context, name, key, value string) (common.Hash, error) {
	if r.opts == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeNotConfigured, "ens signer is not configured")
	}
	opts := *r.opts
	opts.Context = ctx
	tx, err := r.contract.Transact(&opts, "setText", Namehash(name), key, value)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(chain.CodeChainFailure, err, "write ens text failed", xerrors.WithMetadata("key", key))
	}
	if r.waiter != nil {
		if _, err := r.waiter.WaitMined(ctx, tx); err != nil {
			return tx.Hash(), err
		}
	}
	r.log.Info("ENS 文本记录已更新", slog.String("name", name), slog.String("key", key), slog.String("tx", tx.Hash().Hex()))
	return tx.Hash(), nil
}

// Update 依次写入六条记录，单条失败不影响后续写入。
func (r *Resolver) Update(ctx context.Context, name string, stats Stats) ([]common.Hash, error) {
	updates := [][2]string{
		{KeyPnL, stats.PnL},
		{KeyPnLPercent, strconv.FormatFloat(stats.PnLPercent, 'f', 2, 64)},
		{KeyTotalTrades, strconv.Itoa(stats.TotalTrades)},
		{KeyWinRate, strconv.FormatFloat(stats.WinRate, 'f', 2, 64)},
		{KeyLastUpdated, r.now().UTC().Format("2006-01-02T15:04:05.000Z")},
		{KeyAgentStatus, stats.AgentStatus},
	}

	hashes := make([]common.Hash, 0, len(updates))
	var errs []error
	for _, kv := range updates {
		hash, err := r.SetText(ctx, name, kv[0], kv[1])
		if err != nil {
			r.log.Warn("ENS 文本记录更新失败", slog.String("key", kv[0]), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", kv[0], err))
			continue
		}
		hashes = append(hashes, hash)
	}
	return hashes, errors.Join(errs...)
}

// Read 并发读取六条记录，失败的键返回空串。
func (r *Resolver) Read(ctx context.Context, name string) (Records, error) {
	values := make([]string, len(Keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range Keys {
		i, key := i, key
		g.Go(func() error {
			value, err := r.Text(gctx, name, key)
			if err != nil {
				r.log.Warn("ENS 文本记录读取失败", slog.String("name", name), slog.String("key", key), slog.Any("error", err))
				return nil
			}
			values[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Records{}, err
	}
	return Records{
		PnL:         values[0],
		PnLPercent:  values[1],
		TotalTrades: values[2],
		WinRate:     values[3],
		LastUpdated: values[4],
		AgentStatus: values[5],
	}, nil
}
