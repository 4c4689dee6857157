package mysql

import (
	"context"
	"database/sql/driver"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/portfolio"
)

const storeUser = "0x00000000000000000000000000000000000000aa"

func withClock(store *PortfolioStore, at time.Time) *PortfolioStore {
	store.now = func() time.Time { return at }
	return store
}

func TestRunMigrationsSkipsAppliedVersions(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migration files: %+v", files)
	}

	ops := []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
		beginOp(),
	}
	for _, stmt := range files[1].statements {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	ops = append(ops,
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}).withArgs("0002", nil),
		commitOp(),
	)

	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsRollsBackFailedStatement(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(files[0].statements[0], mockResult{}).failing(stdErrors.New("syntax error")),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err = runMigrations(context.Background(), db)
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestPortfolioStoreActiveMandate(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000).UTC()
	rows := mockRowsData{
		columns: []string{"id", "user_address", "yellow_session_id", "max_trade_size", "allowed_pairs", "risk_level", "expires_at", "signature", "created_at"},
		values: [][]driver.Value{{
			"m-1", storeUser, "session-1", "100", `["ETH/USDC","BTC/USDC"]`, "aggressive",
			now.Add(time.Hour).UnixMilli(), "0xsig", now.Add(-time.Minute).UnixMilli(),
		}},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT id, user_address, yellow_session_id, max_trade_size, allowed_pairs, risk_level, expires_at, signature, created_at
        FROM mandates WHERE user_address = ? AND expires_at > ? ORDER BY created_at DESC LIMIT 1`, rows).withArgs(storeUser, now.UnixMilli()),
		queryOp("", mockRowsData{columns: rows.columns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewPortfolioStoreWithDB(db)
	mandate, err := store.ActiveMandate(context.Background(), storeUser, now)
	if err != nil {
		t.Fatalf("ActiveMandate: %v", err)
	}
	if mandate.ID != "m-1" || mandate.RiskLevel != portfolio.RiskAggressive || len(mandate.AllowedPairs) != 2 {
		t.Fatalf("unexpected mandate %+v", mandate)
	}
	if !mandate.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", mandate.ExpiresAt)
	}

	if _, err := store.ActiveMandate(context.Background(), storeUser, now); !stdErrors.Is(err, portfolio.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPortfolioStoreAgentStateRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_700_000_500_000).UTC()
	db, drv := newMockDB(t, []mockOperation{
		execOp("", mockResult{rowsAffected: 1}).withArgs(storeUser, true, "momentum", `{"ETH":"1.5"}`, "12.5", at.UnixMilli()),
		queryOp("", mockRowsData{
			columns: []string{"user_address", "is_running", "strategy", "current_positions", "total_pnl", "last_updated"},
			values:  [][]driver.Value{{storeUser, int64(1), "momentum", `{"ETH":"1.5"}`, "12.5", at.UnixMilli()}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := withClock(NewPortfolioStoreWithDB(db), at)
	saved, err := store.UpsertAgentState(context.Background(), &portfolio.AgentState{
		UserAddress:      storeUser,
		IsRunning:        true,
		Strategy:         portfolio.StrategyMomentum,
		CurrentPositions: map[string]string{"ETH": "1.5"},
		TotalPnL:         "12.5",
	})
	if err != nil {
		t.Fatalf("UpsertAgentState: %v", err)
	}
	if !saved.LastUpdated.Equal(at) {
		t.Fatalf("last updated = %s", saved.LastUpdated)
	}

	state, err := store.GetAgentState(context.Background(), storeUser)
	if err != nil {
		t.Fatalf("GetAgentState: %v", err)
	}
	if !state.IsRunning || state.CurrentPositions["ETH"] != "1.5" || state.TotalPnL != "12.5" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestPortfolioStoreLogsAndStats(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_700_000_900_000).UTC()
	db, drv := newMockDB(t, []mockOperation{
		execOp("", mockResult{rowsAffected: 1}).withArgs(nil, storeUser, "trade", "ETH/USDC", "buy", "1", "3000", "", "executed", "", at.UnixMilli()),
		queryOp("", mockRowsData{
			columns: []string{"id", "user_address", "action", "pair", "side", "amount", "price", "tx_hash", "status", "error", "created_at"},
			values: [][]driver.Value{
				{"l-2", storeUser, "trade", "ETH/USDC", "buy", "1", "3000", "", "executed", nil, at.UnixMilli()},
				{"l-1", storeUser, "agent_started", "", "", "", "", "", "executed", nil, at.Add(-time.Second).UnixMilli()},
			},
		}).withArgs(storeUser, 50, 0),
		queryOp(`SELECT COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
        FROM execution_logs WHERE user_address = ?`, mockRowsData{
			columns: []string{"total", "success", "skipped"},
			values:  [][]driver.Value{{int64(5), int64(3), int64(1)}},
		}).withArgs("executed", "skipped", storeUser),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := withClock(NewPortfolioStoreWithDB(db), at)
	created, err := store.CreateExecutionLog(context.Background(), &portfolio.ExecutionLog{
		UserAddress: storeUser,
		Action:      "trade",
		Pair:        "ETH/USDC",
		Side:        "buy",
		Amount:      "1",
		Price:       "3000",
		Status:      portfolio.LogExecuted,
	})
	if err != nil {
		t.Fatalf("CreateExecutionLog: %v", err)
	}
	if created.ID == "" || !created.Timestamp.Equal(at) {
		t.Fatalf("unexpected created log %+v", created)
	}

	logs, err := store.ListExecutionLogs(context.Background(), storeUser, 50, 0)
	if err != nil {
		t.Fatalf("ListExecutionLogs: %v", err)
	}
	if len(logs) != 2 || !logs[0].IsTrade() || logs[1].IsTrade() {
		t.Fatalf("unexpected logs %+v", logs)
	}

	stats, err := store.LogStats(context.Background(), storeUser)
	if err != nil {
		t.Fatalf("LogStats: %v", err)
	}
	if stats.Total != 5 || stats.Success != 3 || stats.Skipped != 1 || stats.Failed() != 1 || stats.SuccessRate() != 75 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPortfolioStoreWrapsDriverErrors(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp("", mockResult{}).failing(stdErrors.New("connection reset")),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewPortfolioStoreWithDB(db)
	err := store.RevokeMandates(context.Background(), storeUser, time.Now())
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}
