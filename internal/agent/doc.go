// Package agent executes trade intents for VelocityVault users. Each intent
// moves principal out of the vault, looks up a cross-chain route, simulates
// the swap and returns principal plus profit to the vault.
package agent
