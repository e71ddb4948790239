package query

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "PNCT-Query/internal/errors"
	"PNCT-Query/internal/storage/mysql"
)

const recordColumns = `id, query_text, container_id, status, answer, result_json, error_code, last_error, published, submitted_at, created_at, updated_at`

// MySQLStore 使用 MySQL 记录查询状态，表结构由 storage/mysql 的迁移维护。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 基于已有连接池创建 MySQLStore。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// OpenMySQLStore 建立连接、执行迁移并返回 MySQLStore。
func OpenMySQLStore(ctx context.Context, cfg mysql.Config) (*MySQLStore, error) {
	db, err := mysql.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := mysql.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewMySQLStore(db), nil
}

// Create 插入新的查询记录。
func (s *MySQLStore) Create(ctx context.Context, q Query) error {
	if strings.TrimSpace(q.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "查询 ID 不能为空")
	}
	now := s.now().Unix()
	const stmt = `INSERT INTO query_records
        (id, query_text, container_id, status, answer, result_json, error_code, last_error, published, submitted_at, created_at, updated_at)
        VALUES (?, ?, '', ?, NULL, NULL, '', '', 0, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, q.ID, q.Text, string(StatusPending), q.SubmittedAt.UnixMilli(), now, now)
	if err != nil {
		if mysql.IsDuplicateKey(err) {
			return ErrQueryConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入查询记录失败")
	}
	return nil
}

// Get 查询指定记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM query_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueryNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询记录失败")
	}
	return rec, nil
}

// MarkRunning 将尚未完成的查询标记为运行中。
func (s *MySQLStore) MarkRunning(ctx context.Context, id string) error {
	const stmt = `UPDATE query_records SET status = ?, error_code = '', last_error = '', updated_at = ?
        WHERE id = ? AND result_json IS NULL`
	affected, err := s.exec(ctx, "标记查询运行中失败", stmt, string(StatusRunning), s.now().Unix(), id)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrQueryConflict
}

// MarkFailed 记录提交阶段的失败；已有最终结果的记录保持不变。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, message string) error {
	const stmt = `UPDATE query_records SET status = ?, error_code = ?, last_error = ?, updated_at = ?
        WHERE id = ? AND result_json IS NULL`
	affected, err := s.exec(ctx, "标记查询失败状态失败", stmt, string(StatusFailed), string(code), message, s.now().Unix(), id)
	if err != nil || affected > 0 {
		return err
	}
	_, err = s.Get(ctx, id)
	return err
}

// SaveResult 先尝试填充尚无结果的记录，记录不存在时插入；主键冲突说明结果已由其他执行写入。
func (s *MySQLStore) SaveResult(ctx context.Context, q Query, result Result) (bool, error) {
	if strings.TrimSpace(result.QueryID) == "" {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "结果缺少查询 ID")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码查询结果失败")
	}
	now := s.now().Unix()

	const update = `UPDATE query_records SET container_id = ?, status = ?, answer = ?, result_json = ?, error_code = ?, last_error = '', updated_at = ?
        WHERE id = ? AND result_json IS NULL`
	affected, err := s.exec(ctx, "写入查询结果失败", update,
		result.ContainerID, string(result.Status), result.Answer, string(payload), result.ErrorCode, now, result.QueryID)
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	if q.ID == "" {
		q.ID = result.QueryID
	}
	const insert = `INSERT INTO query_records
        (id, query_text, container_id, status, answer, result_json, error_code, last_error, published, submitted_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, insert, result.QueryID, q.Text, result.ContainerID, string(result.Status),
		result.Answer, string(payload), result.ErrorCode, q.SubmittedAt.UnixMilli(), now, now)
	if err != nil {
		if mysql.IsDuplicateKey(err) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入查询结果失败")
	}
	return true, nil
}

// MarkPublished 标记结果已发布。
func (s *MySQLStore) MarkPublished(ctx context.Context, id string) error {
	const stmt = `UPDATE query_records SET published = 1, updated_at = ? WHERE id = ?`
	affected, err := s.exec(ctx, "标记查询已发布失败", stmt, s.now().Unix(), id)
	if err != nil || affected > 0 {
		return err
	}
	_, err = s.Get(ctx, id)
	return err
}

// List 返回符合过滤条件的记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT ` + recordColumns + ` FROM query_records`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询记录列表失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析查询记录失败")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历查询记录失败")
	}
	return records, nil
}

// Stats 返回符合过滤条件的聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN JSON_EXTRACT(result_json, '$.timed_out') = true THEN 1 ELSE 0 END), 0) AS timed_out,
        COALESCE(SUM(CASE WHEN JSON_EXTRACT(result_json, '$.incomplete') = true THEN 1 ELSE 0 END), 0) AS incomplete,
        COALESCE(SUM(CASE WHEN result_json IS NOT NULL AND published = 0 THEN 1 ELSE 0 END), 0) AS unpublished,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM query_records`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.TimedOut,
		&stats.Incomplete,
		&stats.Unpublished,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询统计失败")
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

func (s *MySQLStore) exec(ctx context.Context, failure, stmt string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return affected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec         Record
		containerID string
		answer      sql.NullString
		resultJSON  sql.NullString
		lastError   sql.NullString
		submittedAt int64
	)
	if err := row.Scan(
		&rec.Query.ID,
		&rec.Query.Text,
		&containerID,
		&rec.Status,
		&answer,
		&resultJSON,
		&rec.ErrorCode,
		&lastError,
		&rec.Published,
		&submittedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.LastError = lastError.String
	if submittedAt > 0 {
		rec.Query.SubmittedAt = time.UnixMilli(submittedAt).UTC()
	}
	if resultJSON.Valid && strings.TrimSpace(resultJSON.String) != "" {
		var result Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("解析 result_json 失败: %w", err)
		}
		rec.Result = &result
	}
	return &rec, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.ContainerID != "" {
		conditions = append(conditions, "container_id = ?")
		args = append(args, opts.ContainerID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "result_json IS NOT NULL")
		} else {
			conditions = append(conditions, "result_json IS NULL")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR query_text LIKE ? OR answer LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
