// Package chain houses EVM connectivity for VelocityVault: YAML chain
// definitions, a registry of named JSON-RPC clients and helpers for
// building transactors and waiting on receipts. Contract bindings in
// internal/vault and internal/ens sit on top of the backends exposed here.
package chain
