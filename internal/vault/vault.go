package vault

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"VelocityVault/internal/chain"
	xerrors "VelocityVault/internal/errors"
	"VelocityVault/pkg/logger"
)

// ABI 为 VelocityVault 合约中代理与用户使用的方法。
const ABI = `[
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"agentWithdraw","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"destination","type":"address"},{"name":"executionId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"agentDeposit","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"executionId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getTotalDeposits","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Agent 描述交易代理对金库的最小依赖。
type Agent interface {
	AgentWithdraw(ctx context.Context, user common.Address, amount *big.Int, destination common.Address, executionID [32]byte) (common.Hash, error)
	AgentDeposit(ctx context.Context, user common.Address, amount *big.Int, executionID [32]byte) (common.Hash, error)
}

// ExecutionID 与前端 ethers.id 一致，对字符串做 keccak256。
func ExecutionID(id string) [32]byte {
	return crypto.Keccak256Hash([]byte(id))
}

// Vault 绑定一个已部署的 VelocityVault 合约。
type Vault struct {
	address  common.Address
	contract *bind.BoundContract
	opts     *bind.TransactOpts
	log      *slog.Logger
}

// New 创建合约绑定，opts 为 nil 时只允许只读调用。
func New(address string, backend bind.ContractBackend, opts *bind.TransactOpts) (*Vault, error) {
	if !chain.IsAddress(address) {
		return nil, xerrors.New(xerrors.CodeValidation, "invalid vault address", xerrors.WithMetadata("address", address))
	}
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "vault backend is required")
	}
	addr := common.HexToAddress(address)
	return &Vault{
		address:  addr,
		contract: bind.NewBoundContract(addr, parsedABI, backend, backend, backend),
		opts:     opts,
		log:      logger.Named("vault"),
	}, nil
}

// Address returns the contract address.
func (v *Vault) Address() common.Address {
	return v.address
}

// Deposit 由用户存入 USDC（需事先 approve）。
func (v *Vault) Deposit(ctx context.Context, amount *big.Int) (common.Hash, error) {
	if err := positive(amount); err != nil {
		return common.Hash{}, err
	}
	return v.transact(ctx, "deposit", amount)
}

// Withdraw 由用户取回自己的余额。
func (v *Vault) Withdraw(ctx context.Context, amount *big.Int) (common.Hash, error) {
	if err := positive(amount); err != nil {
		return common.Hash{}, err
	}
	return v.transact(ctx, "withdraw", amount)
}

// AgentWithdraw 代理为执行交易从用户余额中划出资金。
func (v *Vault) AgentWithdraw(ctx context.Context, user common.Address, amount *big.Int, destination common.Address, executionID [32]byte) (common.Hash, error) {
	if err := positive(amount); err != nil {
		return common.Hash{}, err
	}
	return v.transact(ctx, "agentWithdraw", user, amount, destination, executionID)
}

// AgentDeposit 代理归还本金与收益。
func (v *Vault) AgentDeposit(ctx context.Context, user common.Address, amount *big.Int, executionID [32]byte) (common.Hash, error) {
	if err := positive(amount); err != nil {
		return common.Hash{}, err
	}
	return v.transact(ctx, "agentDeposit", user, amount, executionID)
}

// BalanceOf 查询用户在金库中的余额（USDC 基础单位）。
func (v *Vault) BalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return v.callUint(ctx, "balanceOf", user)
}

// TotalDeposits 查询金库总存款。
func (v *Vault) TotalDeposits(ctx context.Context) (*big.Int, error) {
	return v.callUint(ctx, "getTotalDeposits")
}

func (v *Vault) callUint(ctx context.Context, method string, params ...any) (*big.Int, error) {
	var out []any
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, xerrors.Wrap(chain.CodeChainFailure, err, "vault call failed", xerrors.WithMetadata("method", method))
	}
	if len(out) == 0 {
		return nil, xerrors.New(chain.CodeChainFailure, "vault call returned no data", xerrors.WithMetadata("method", method))
	}
	value, ok := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !ok {
		return nil, xerrors.New(chain.CodeChainFailure, "unexpected vault return type", xerrors.WithMetadata("method", method))
	}
	return value, nil
}

func (v *Vault) transact(ctx context.Context, method string, params ...any) (common.Hash, error) {
	if v.opts == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeNotConfigured, "vault signer is not configured")
	}
	opts := *v.opts
	opts.Context = ctx
	tx, err := v.contract.Transact(&opts, method, params...)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(chain.CodeChainFailure, err, "vault transaction failed", xerrors.WithMetadata("method", method))
	}
	v.log.Info("金库交易已发送", slog.String("method", method), slog.String("tx", tx.Hash().Hex()))
	return tx.Hash(), nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodePrecondition, "amount must be greater than zero")
	}
	return nil
}
