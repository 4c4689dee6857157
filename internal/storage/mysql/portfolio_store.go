package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/portfolio"
)

// PortfolioStore 使用 MySQL 保存组合数据。
type PortfolioStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPortfolioStore 打开连接池、执行迁移并返回存储。
func NewPortfolioStore(ctx context.Context, cfg Config) (*PortfolioStore, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewPortfolioStoreWithDB(db), nil
}

// NewPortfolioStoreWithDB 基于已有连接池构造存储。
func NewPortfolioStoreWithDB(db *sql.DB) *PortfolioStore {
	return &PortfolioStore{db: db, now: time.Now}
}

// GetUser 实现 portfolio.Store。
func (s *PortfolioStore) GetUser(ctx context.Context, address string) (*portfolio.User, error) {
	const stmt = `SELECT address, ens_name, created_at, updated_at FROM users WHERE address = ?`

	var (
		user             portfolio.User
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, stmt, address).Scan(&user.Address, &user.ENSName, &created, &updated)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, portfolio.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户失败")
	}
	user.CreatedAt = fromMillis(created)
	user.UpdatedAt = fromMillis(updated)
	return &user, nil
}

// UpsertUser 创建或更新用户，空 ENS 名称不会覆盖已有值。
func (s *PortfolioStore) UpsertUser(ctx context.Context, user *portfolio.User) (*portfolio.User, error) {
	if user == nil || user.Address == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "user address is required")
	}
	const stmt = `INSERT INTO users (address, ens_name, created_at, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE ens_name = IF(VALUES(ens_name) = '', ens_name, VALUES(ens_name)), updated_at = VALUES(updated_at)`

	now := s.now().UTC().UnixMilli()
	if _, err := s.db.ExecContext(ctx, stmt, user.Address, user.ENSName, now, now); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入用户失败")
	}
	return s.GetUser(ctx, user.Address)
}

// CreateMandate 实现 portfolio.Store。
func (s *PortfolioStore) CreateMandate(ctx context.Context, mandate *portfolio.Mandate) (*portfolio.Mandate, error) {
	if mandate == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "mandate is required")
	}
	created := *mandate
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = s.now().UTC()
	}
	pairs, err := json.Marshal(nonNilPairs(created.AllowedPairs))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "编码 allowed_pairs 失败")
	}

	const stmt = `INSERT INTO mandates
        (id, user_address, yellow_session_id, max_trade_size, allowed_pairs, risk_level, expires_at, signature, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		created.ID,
		created.UserAddress,
		created.YellowSessionID,
		created.MaxTradeSize,
		string(pairs),
		string(created.RiskLevel),
		toMillis(created.ExpiresAt),
		created.Signature,
		toMillis(created.CreatedAt),
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入授权失败")
	}
	created.AllowedPairs = nonNilPairs(created.AllowedPairs)
	return &created, nil
}

// ActiveMandate 返回最近创建且未过期的授权。
func (s *PortfolioStore) ActiveMandate(ctx context.Context, address string, now time.Time) (*portfolio.Mandate, error) {
	const stmt = `SELECT id, user_address, yellow_session_id, max_trade_size, allowed_pairs, risk_level, expires_at, signature, created_at
        FROM mandates WHERE user_address = ? AND expires_at > ? ORDER BY created_at DESC LIMIT 1`

	var (
		mandate            portfolio.Mandate
		pairs              string
		risk               string
		expires, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, stmt, address, now.UnixMilli()).Scan(
		&mandate.ID,
		&mandate.UserAddress,
		&mandate.YellowSessionID,
		&mandate.MaxTradeSize,
		&pairs,
		&risk,
		&expires,
		&mandate.Signature,
		&createdAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, portfolio.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询有效授权失败")
	}
	if err := json.Unmarshal([]byte(pairs), &mandate.AllowedPairs); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 allowed_pairs 失败")
	}
	mandate.AllowedPairs = nonNilPairs(mandate.AllowedPairs)
	mandate.RiskLevel = portfolio.RiskLevel(risk)
	mandate.ExpiresAt = fromMillis(expires)
	mandate.CreatedAt = fromMillis(createdAt)
	return &mandate, nil
}

// RevokeMandates 将所有未过期授权的过期时间设为 now。
func (s *PortfolioStore) RevokeMandates(ctx context.Context, address string, now time.Time) error {
	const stmt = `UPDATE mandates SET expires_at = ? WHERE user_address = ? AND expires_at > ?`

	at := now.UnixMilli()
	if _, err := s.db.ExecContext(ctx, stmt, at, address, at); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "撤销授权失败")
	}
	return nil
}

// GetAgentState 实现 portfolio.Store。
func (s *PortfolioStore) GetAgentState(ctx context.Context, address string) (*portfolio.AgentState, error) {
	const stmt = `SELECT user_address, is_running, strategy, current_positions, total_pnl, last_updated
        FROM agent_states WHERE user_address = ?`

	var (
		state     portfolio.AgentState
		strategy  string
		positions sql.NullString
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, stmt, address).Scan(
		&state.UserAddress,
		&state.IsRunning,
		&strategy,
		&positions,
		&state.TotalPnL,
		&updated,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, portfolio.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询代理状态失败")
	}
	state.Strategy = portfolio.Strategy(strategy)
	state.LastUpdated = fromMillis(updated)
	state.CurrentPositions = map[string]string{}
	if positions.Valid && strings.TrimSpace(positions.String) != "" {
		if err := json.Unmarshal([]byte(positions.String), &state.CurrentPositions); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析持仓失败")
		}
	}
	return &state, nil
}

// UpsertAgentState 实现 portfolio.Store。
func (s *PortfolioStore) UpsertAgentState(ctx context.Context, state *portfolio.AgentState) (*portfolio.AgentState, error) {
	if state == nil || state.UserAddress == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agent state address is required")
	}
	saved := *state
	if saved.CurrentPositions == nil {
		saved.CurrentPositions = map[string]string{}
	}
	if saved.TotalPnL == "" {
		saved.TotalPnL = "0"
	}
	saved.LastUpdated = s.now().UTC()
	positions, err := json.Marshal(saved.CurrentPositions)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "编码持仓失败")
	}

	const stmt = `INSERT INTO agent_states (user_address, is_running, strategy, current_positions, total_pnl, last_updated)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE is_running = VALUES(is_running), strategy = VALUES(strategy),
        current_positions = VALUES(current_positions), total_pnl = VALUES(total_pnl), last_updated = VALUES(last_updated)`

	if _, err := s.db.ExecContext(ctx, stmt,
		saved.UserAddress,
		saved.IsRunning,
		string(saved.Strategy),
		string(positions),
		saved.TotalPnL,
		toMillis(saved.LastUpdated),
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入代理状态失败")
	}
	return &saved, nil
}

// CreateExecutionLog 实现 portfolio.Store。
func (s *PortfolioStore) CreateExecutionLog(ctx context.Context, log *portfolio.ExecutionLog) (*portfolio.ExecutionLog, error) {
	if log == nil || log.UserAddress == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "execution log address is required")
	}
	created := *log
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.Timestamp.IsZero() {
		created.Timestamp = s.now().UTC()
	}

	const stmt = `INSERT INTO execution_logs
        (id, user_address, action, pair, side, amount, price, tx_hash, status, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		created.ID,
		created.UserAddress,
		created.Action,
		created.Pair,
		created.Side,
		created.Amount,
		created.Price,
		created.TxHash,
		string(created.Status),
		created.Error,
		toMillis(created.Timestamp),
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行日志失败")
	}
	return &created, nil
}

// ListExecutionLogs 按时间倒序分页返回日志。
func (s *PortfolioStore) ListExecutionLogs(ctx context.Context, address string, limit, offset int) ([]portfolio.ExecutionLog, error) {
	const stmt = `SELECT id, user_address, action, pair, side, amount, price, tx_hash, status, error, created_at
        FROM execution_logs WHERE user_address = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, stmt, address, limit, offset)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行日志失败")
	}
	defer rows.Close()

	logs := make([]portfolio.ExecutionLog, 0, limit)
	for rows.Next() {
		var (
			entry   portfolio.ExecutionLog
			status  string
			errText sql.NullString
			created int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.UserAddress,
			&entry.Action,
			&entry.Pair,
			&entry.Side,
			&entry.Amount,
			&entry.Price,
			&entry.TxHash,
			&status,
			&errText,
			&created,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行日志失败")
		}
		entry.Status = portfolio.LogStatus(status)
		entry.Error = errText.String
		entry.Timestamp = fromMillis(created)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行日志失败")
	}
	return logs, nil
}

// LogStats 统计日志总数、成功数与跳过数。
func (s *PortfolioStore) LogStats(ctx context.Context, address string) (portfolio.LogStats, error) {
	const stmt = `SELECT COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
        FROM execution_logs WHERE user_address = ?`

	var stats portfolio.LogStats
	err := s.db.QueryRowContext(ctx, stmt, string(portfolio.LogExecuted), string(portfolio.LogSkipped), address).
		Scan(&stats.Total, &stats.Success, &stats.Skipped)
	if err != nil {
		return portfolio.LogStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计执行日志失败")
	}
	return stats, nil
}

// CreatePnLSnapshot 实现 portfolio.Store。
func (s *PortfolioStore) CreatePnLSnapshot(ctx context.Context, snapshot *portfolio.PnLSnapshot) (*portfolio.PnLSnapshot, error) {
	if snapshot == nil || snapshot.UserAddress == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "snapshot address is required")
	}
	created := *snapshot
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.SnapshotAt.IsZero() {
		created.SnapshotAt = s.now().UTC()
	}

	const stmt = `INSERT INTO pnl_snapshots (id, user_address, pnl, pnl_percent, ens_updated, snapshot_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		created.ID,
		created.UserAddress,
		created.PnL,
		created.PnLPercent,
		created.ENSUpdated,
		toMillis(created.SnapshotAt),
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入收益快照失败")
	}
	return &created, nil
}

// ListPnLHistory 按快照时间倒序返回。
func (s *PortfolioStore) ListPnLHistory(ctx context.Context, address string, limit int) ([]portfolio.PnLSnapshot, error) {
	const stmt = `SELECT id, user_address, pnl, pnl_percent, ens_updated, snapshot_at
        FROM pnl_snapshots WHERE user_address = ? ORDER BY snapshot_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, address, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询收益快照失败")
	}
	defer rows.Close()

	history := make([]portfolio.PnLSnapshot, 0, limit)
	for rows.Next() {
		var (
			snap portfolio.PnLSnapshot
			at   int64
		)
		if err := rows.Scan(&snap.ID, &snap.UserAddress, &snap.PnL, &snap.PnLPercent, &snap.ENSUpdated, &at); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析收益快照失败")
		}
		snap.SnapshotAt = fromMillis(at)
		history = append(history, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历收益快照失败")
	}
	return history, nil
}

// LatestPnL 返回最新快照。
func (s *PortfolioStore) LatestPnL(ctx context.Context, address string) (*portfolio.PnLSnapshot, error) {
	history, err := s.ListPnLHistory(ctx, address, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, portfolio.ErrNotFound
	}
	return &history[0], nil
}

// Close 关闭底层数据库连接。
func (s *PortfolioStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nonNilPairs(pairs []string) []string {
	if pairs == nil {
		return []string{}
	}
	return pairs
}

var _ portfolio.Store = (*PortfolioStore)(nil)
