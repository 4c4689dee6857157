// Package vault binds the VelocityVault custody contract. Users deposit and
// withdraw USDC directly; the trading agent moves funds out for execution
// with AgentWithdraw and returns principal plus profit with AgentDeposit.
// Simulated stands in when no contract address is configured.
package vault
