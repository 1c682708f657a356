package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	apperrors "keypool/internal/errors"
	"keypool/internal/model"
	"keypool/internal/util"
)

const healthColumns = "identifier, status, failure_count, daily_failure_count, consecutive_failures, " +
	"cooldown_duration_ms, retry_at, last_checked_at, recent_errors"

// rowScanner 兼容 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanHealth 扫描一行 key_health
func scanHealth(row rowScanner) (*model.HealthRecord, error) {
	var (
		rec          model.HealthRecord
		status       string
		retryAt      int64
		lastChecked  int64
		recentErrors string
	)
	if err := row.Scan(
		&rec.Identifier, &status, &rec.FailureCount, &rec.DailyFailureCount, &rec.ConsecutiveFailures,
		&rec.CooldownDurationMs, &retryAt, &lastChecked, &recentErrors,
	); err != nil {
		return nil, err
	}

	rec.Status = model.HealthStatus(status)
	if !rec.Status.IsValid() {
		log.Printf("[WARN] key_health 中 %s 的状态值非法: %q，按 HEALTHY 处理", rec.Identifier, status)
		rec.Status = model.StatusHealthy
	}
	rec.RetryAt = util.FromUnixMillisPtr(retryAt)
	if rec.Status == model.StatusUnhealthy && rec.RetryAt == nil {
		// UNHEALTHY 必须带 retryAt：缺失时视为冷却已结束（观察期）
		epoch := time.UnixMilli(0)
		rec.RetryAt = &epoch
	}
	rec.LastCheckedAt = util.FromUnixMillis(lastChecked)

	rec.RecentErrors = []model.ErrorLog{}
	if err := util.DecodeJSON([]byte(recentErrors), &rec.RecentErrors); err != nil {
		log.Printf("[WARN] key_health 中 %s 的 recent_errors 解析失败，已忽略: %v", rec.Identifier, err)
		rec.RecentErrors = []model.ErrorLog{}
	}
	return &rec, nil
}

// GetHealth 读取单个Key的健康记录（不存在返回隐式默认值）
func (s *SQLStore) GetHealth(ctx context.Context, id string) (*model.HealthRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+healthColumns+" FROM key_health WHERE identifier = ?", id)
	rec, err := scanHealth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultHealthRecord(id), nil
	}
	if err != nil {
		return nil, apperrors.DBQueryError("get key health", err)
	}
	return rec, nil
}

// GetAllHealth 单次查询批量读取（IN 子句），缺失的标识符填充默认值
func (s *SQLStore) GetAllHealth(ctx context.Context, ids []string) (map[string]*model.HealthRecord, error) {
	result := make(map[string]*model.HealthRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+healthColumns+" FROM key_health WHERE identifier IN ("+placeholders+")", args...)
	if err != nil {
		return nil, apperrors.DBQueryError("get all key health", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanHealth(rows)
		if err != nil {
			return nil, apperrors.DBQueryError("scan key health", err)
		}
		result[rec.Identifier] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DBQueryError("iterate key health", err)
	}

	for _, id := range ids {
		if _, ok := result[id]; !ok {
			result[id] = model.DefaultHealthRecord(id)
		}
	}
	return result, nil
}

// ListHealth 返回所有已持久化的记录
func (s *SQLStore) ListHealth(ctx context.Context) ([]*model.HealthRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+healthColumns+" FROM key_health ORDER BY identifier")
	if err != nil {
		return nil, apperrors.DBQueryError("list key health", err)
	}
	defer func() { _ = rows.Close() }()

	var list []*model.HealthRecord
	for rows.Next() {
		rec, err := scanHealth(rows)
		if err != nil {
			return nil, apperrors.DBQueryError("scan key health", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DBQueryError("iterate key health", err)
	}
	return list, nil
}

// MarkSuccess 成功：恢复 HEALTHY，清零连续失败
func (s *SQLStore) MarkSuccess(ctx context.Context, id string, now time.Time) (*model.HealthRecord, error) {
	return s.mutate(ctx, id, now, func(rec *model.HealthRecord) {
		rec.RecordSuccess(now)
	})
}

// MarkFailure 记录Key级失败，达到阈值时剔除
func (s *SQLStore) MarkFailure(ctx context.Context, id string, e model.ErrorLog, p model.EjectionPolicy, now time.Time) (*model.HealthRecord, error) {
	return s.mutate(ctx, id, now, func(rec *model.HealthRecord) {
		rec.RecordFailure(e, p, now)
	})
}

// SetEjection 手动剔除
func (s *SQLStore) SetEjection(ctx context.Context, id string, until, now time.Time) (*model.HealthRecord, error) {
	return s.mutate(ctx, id, now, func(rec *model.HealthRecord) {
		rec.Eject(until, now)
	})
}

// ResetDailyFailures 清零每日失败计数
func (s *SQLStore) ResetDailyFailures(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE key_health SET daily_failure_count = 0, updated_at = ? WHERE daily_failure_count > 0",
		time.Now().UnixMilli())
	if err != nil {
		return 0, apperrors.DBUpdateError("key_health", "*", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.DBUpdateError("key_health", "*", err)
	}
	return n, nil
}

// mutate 单事务内完成读-改-写
//  1. 插入默认行（已存在则忽略），保证后续 SELECT 必定命中
//  2. SELECT（MySQL 加 FOR UPDATE 行锁，SQLite 单连接天然串行）
//  3. 在内存中执行状态转换
//  4. 整行 UPDATE
func (s *SQLStore) mutate(ctx context.Context, id string, now time.Time, fn func(*model.HealthRecord)) (*model.HealthRecord, error) {
	var out *model.HealthRecord
	nowMs := now.UnixMilli()

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.insertIgnore()+" INTO key_health (identifier, status, recent_errors, created_at, updated_at) VALUES (?, ?, '[]', ?, ?)",
			id, string(model.StatusHealthy), nowMs, nowMs,
		); err != nil {
			return fmt.Errorf("insert default row: %w", err)
		}

		rec, err := scanHealth(tx.QueryRowContext(ctx,
			"SELECT "+healthColumns+" FROM key_health WHERE identifier = ?"+s.forUpdate(), id))
		if err != nil {
			return fmt.Errorf("select for update: %w", err)
		}

		fn(rec)

		recentErrors, err := util.EncodeJSON(rec.RecentErrors)
		if err != nil {
			return fmt.Errorf("encode recent_errors: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE key_health SET
			status = ?, failure_count = ?, daily_failure_count = ?, consecutive_failures = ?,
			cooldown_duration_ms = ?, retry_at = ?, last_checked_at = ?, recent_errors = ?, updated_at = ?
			WHERE identifier = ?`,
			string(rec.Status), rec.FailureCount, rec.DailyFailureCount, rec.ConsecutiveFailures,
			rec.CooldownDurationMs, util.ToUnixMillisPtr(rec.RetryAt), util.ToUnixMillis(rec.LastCheckedAt),
			string(recentErrors), nowMs, id,
		); err != nil {
			return fmt.Errorf("update row: %w", err)
		}

		out = rec
		return nil
	})
	if err != nil {
		return nil, apperrors.DBUpdateError("key_health", id, err)
	}
	return out, nil
}
