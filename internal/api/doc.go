// Package api exposes the VelocityVault backend over HTTP: mandate sessions,
// agent start/stop controls, portfolio state, activity logs, ENS reputation
// records and the agent intent queue.
package api
