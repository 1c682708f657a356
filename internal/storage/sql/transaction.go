package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	// txMaxRetries 可重试错误（SQLite BUSY / MySQL死锁）的最大尝试次数
	txMaxRetries = 12
	// txBaseDelay 首次重试的基础等待时间，之后指数增长
	txBaseDelay = 25 * time.Millisecond
)

// MySQL 可重试错误码
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// WithTransaction 在事务中执行函数（健康记录的读-改-写都经过这里）
//
// 使用示例:
//
//	err := store.WithTransaction(ctx, func(tx *sql.Tx) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE key_health SET ...")
//	    return err // 返回错误自动回滚，nil 自动提交
//	})
func (s *SQLStore) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return withTransaction(s.db, ctx, fn)
}

// withTransaction 事务模板：自动提交/回滚，可重试错误带指数退避
//
// 重试时间轴（抖动前）：25ms, 50ms, 100ms ... 第11次重试前最长 51.2s
// context 带 deadline 时，预估下一次等待会越过 deadline 则提前放弃
func withTransaction(db *sql.DB, ctx context.Context, fn func(*sql.Tx) error) error {
	deadline, hasDeadline := ctx.Deadline()

	var err error
	for attempt := 0; attempt < txMaxRetries; attempt++ {
		err = executeSingleTransaction(db, ctx, fn)
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		if attempt == txMaxRetries-1 {
			break
		}

		nextDelay := calculateBackoffDelay(attempt, txBaseDelay)
		if hasDeadline && time.Now().Add(nextDelay).After(deadline) {
			return fmt.Errorf("transaction aborted: context deadline would be exceeded (attempted %d retries): %w", attempt+1, err)
		}

		timer := time.NewTimer(nextDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("transaction cancelled after %d retries: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", txMaxRetries, err)
}

// executeSingleTransaction 执行单次事务(无重试)
func executeSingleTransaction(db *sql.DB, ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// panic 回滚后继续抛出，不吞掉编程错误
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isRetryableTxError 数据库暂时不可用，重试即可解决的错误
//   - SQLite: BUSY / LOCKED（单写者模式下偶发）
//   - MySQL: 死锁(1213)、锁等待超时(1205)（多实例并发 FOR UPDATE 同一Key）
func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}

	errMsg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"database is locked",
		"database is deadlocked",
		"database table is locked",
		"sqlite_busy",
		"sqlite_locked",
	} {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}

// calculateBackoffDelay 指数退避 + [50%, 100%) 随机抖动（避免并发写者同时重试）
func calculateBackoffDelay(attempt int, baseDelay time.Duration) time.Duration {
	delay := baseDelay * time.Duration(1<<uint(attempt))
	return time.Duration(float64(delay) * (0.5 + 0.5*rand.Float64()))
}
