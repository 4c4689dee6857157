package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/storage/mysql"
)

// MySQLStore 使用 MySQL 的 trade_intents 表记录意图状态。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 打开连接池并执行迁移。
func NewMySQLStore(ctx context.Context, cfg mysql.Config) (*MySQLStore, error) {
	db, err := mysql.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewMySQLStoreWithDB(db), nil
}

// NewMySQLStoreWithDB 基于已有连接池构造存储。
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

const selectIntentColumns = `SELECT id, user_address, action, asset, amount, intent_ts, status, attempts, max_retries,
        last_error, error_code, result, created_at, updated_at FROM trade_intents`

// Create 插入新的意图。
func (s *MySQLStore) Create(ctx context.Context, intent *TradeIntent) error {
	if intent == nil || strings.TrimSpace(intent.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "意图 ID 不能为空")
	}
	now := s.now().UnixMilli()
	if intent.CreatedAt == 0 {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now

	const stmt = `INSERT INTO trade_intents
        (id, user_address, action, asset, amount, intent_ts, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		intent.ID,
		intent.User,
		intent.Action,
		intent.Asset,
		intent.Amount,
		intent.Timestamp,
		string(intent.Status),
		intent.Attempts,
		intent.MaxRetries,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysqldriver.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrIntentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易意图失败")
	}
	return nil
}

// Get 查询指定意图。
func (s *MySQLStore) Get(ctx context.Context, id string) (*TradeIntent, error) {
	intent, err := scanIntent(s.db.QueryRowContext(ctx, selectIntentColumns+` WHERE id = ?`, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易意图失败")
	}
	return intent, nil
}

// Claim 将意图标记为执行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*TradeIntent, error) {
	const stmt = `UPDATE trade_intents SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), s.now().UnixMilli(), id, string(StatusPending), string(StatusFailed))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易意图状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	intent, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return intent, nil
	}
	switch {
	case intent.Status == StatusSucceeded:
		return intent, ErrIntentCompleted
	case intent.Status != StatusRunning && intent.Attempts >= intent.MaxRetries:
		return intent, ErrIntentExhausted
	default:
		return intent, ErrIntentConflict
	}
}

// MarkSucceeded 写入执行结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "编码执行结果失败")
	}
	const stmt = `UPDATE trade_intents SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	return s.update(ctx, "标记交易意图成功失败", stmt, string(StatusSucceeded), string(encoded), s.now().UnixMilli(), id)
}

// MarkFailed 标记失败；terminal 时将 attempts 提升到 max_retries。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE trade_intents SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        attempts = CASE WHEN ? THEN GREATEST(attempts, max_retries) ELSE attempts END WHERE id = ?`
	return s.update(ctx, "标记交易意图失败出错", stmt, string(StatusFailed), lastError, string(code), s.now().UnixMilli(), terminal, id)
}

// Delete 删除意图。
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	return s.update(ctx, "删除交易意图失败", `DELETE FROM trade_intents WHERE id = ?`, id)
}

func (s *MySQLStore) update(ctx context.Context, failure, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// List 按更新时间倒序返回意图。
func (s *MySQLStore) List(ctx context.Context, limit int, statuses ...Status) ([]*TradeIntent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := selectIntentColumns
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, status := range statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY updated_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易意图列表失败")
	}
	defer rows.Close()

	intents := make([]*TradeIntent, 0, limit)
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易意图失败")
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易意图失败")
	}
	return intents, nil
}

// Stats 聚合各状态数量。
func (s *MySQLStore) Stats(ctx context.Context) (Stats, error) {
	const stmt = `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
        FROM trade_intents`

	var stats Stats
	err := s.db.QueryRowContext(ctx, stmt,
		string(StatusPending),
		string(StatusRunning),
		string(StatusSucceeded),
		string(StatusFailed),
	).Scan(&stats.Total, &stats.Pending, &stats.Running, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易意图统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*TradeIntent, error) {
	var (
		intent    TradeIntent
		status    string
		lastError sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&intent.ID,
		&intent.User,
		&intent.Action,
		&intent.Asset,
		&intent.Amount,
		&intent.Timestamp,
		&status,
		&intent.Attempts,
		&intent.MaxRetries,
		&lastError,
		&intent.ErrorCode,
		&result,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	); err != nil {
		return nil, err
	}
	intent.Status = Status(status)
	intent.LastError = lastError.String
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var decoded ExecutionResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, err
		}
		intent.Result = &decoded
	}
	return &intent, nil
}

var _ Store = (*MySQLStore)(nil)
