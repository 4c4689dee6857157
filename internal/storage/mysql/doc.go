// Package mysql persists users, mandates, agent state, execution logs and PnL
// snapshots in MySQL. Schema changes live in deploy/migrations and are applied
// in file order when a connection pool is opened.
package mysql
