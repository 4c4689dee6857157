// Package clearnode implements the VelocityVault session client for a
// Nitrolite style clearnode. It signs and encodes request frames, carries
// them over a websocket transport, routes responses into typed events and
// folds those events into a session state machine with an optimistic
// balance ledger. The Monitor keeps a session alive with bounded
// exponential backoff and forwards transfer confirmations to an intent
// sink.
package clearnode
