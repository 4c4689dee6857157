package vault

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"VelocityVault/pkg/logger"
)

// Simulated 在未配置金库地址时代替真实合约，只记录日志。
type Simulated struct {
	log *slog.Logger
}

// NewSimulated returns a vault stand-in for demo deployments.
func NewSimulated() *Simulated {
	return &Simulated{log: logger.Named("vault")}
}

// AgentWithdraw 记录一次模拟划出。
func (s *Simulated) AgentWithdraw(ctx context.Context, user common.Address, amount *big.Int, destination common.Address, executionID [32]byte) (common.Hash, error) {
	s.log.Info("模拟金库划出",
		slog.String("user", user.Hex()),
		slog.String("amount", amount.String()),
		slog.String("destination", destination.Hex()),
	)
	return fakeHash("agentWithdraw", executionID), nil
}

// AgentDeposit 记录一次模拟归还。
func (s *Simulated) AgentDeposit(ctx context.Context, user common.Address, amount *big.Int, executionID [32]byte) (common.Hash, error) {
	s.log.Info("模拟金库归还",
		slog.String("user", user.Hex()),
		slog.String("amount", amount.String()),
	)
	return fakeHash("agentDeposit", executionID), nil
}

func fakeHash(method string, executionID [32]byte) common.Hash {
	return crypto.Keccak256Hash([]byte(method), executionID[:])
}
