package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "keypool/internal/errors"
)

// LoadPointer 读取共享轮询指针（不存在为0）
func (s *SQLStore) LoadPointer(ctx context.Context, name string) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, "SELECT position FROM rotation_pointers WHERE name = ?", name).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.DBQueryError("load rotation pointer", err)
	}
	return pos, nil
}

// CompareAndSwapPointer 条件更新：position 等于 old 时写入 next
//
// MySQL 的 RowsAffected 只统计实际变化的行，old == next 且同一毫秒内会返回0，
// 此时回读当前值判断 CAS 是否成立
func (s *SQLStore) CompareAndSwapPointer(ctx context.Context, name string, old, next int64) (bool, error) {
	nowMs := time.Now().UnixMilli()

	if old == 0 {
		if _, err := s.db.ExecContext(ctx,
			s.insertIgnore()+" INTO rotation_pointers (name, position, updated_at) VALUES (?, 0, ?)",
			name, nowMs,
		); err != nil {
			return false, apperrors.DBUpdateError("rotation_pointers", name, err)
		}
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE rotation_pointers SET position = ?, updated_at = ? WHERE name = ? AND position = ?",
		next, nowMs, name, old)
	if err != nil {
		return false, apperrors.DBUpdateError("rotation_pointers", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.DBUpdateError("rotation_pointers", name, err)
	}
	if n > 0 {
		return true, nil
	}
	if old != next {
		return false, nil
	}

	cur, err := s.LoadPointer(ctx, name)
	if err != nil {
		return false, err
	}
	return cur == old, nil
}
