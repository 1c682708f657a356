package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"keypool/internal/storage/schema"
)

// Dialect 数据库方言
type Dialect int

// Dialect 数据库方言常量
const (
	// DialectSQLite SQLite数据库方言
	DialectSQLite Dialect = iota
	// DialectMySQL MySQL数据库方言
	DialectMySQL
)

// sqliteMigratableTables 允许增量迁移的SQLite表名白名单
// 表名会拼接进 PRAGMA 语句，新增表时需在此处注册
var sqliteMigratableTables = map[string]bool{
	"key_health":        true,
	"rotation_pointers": true,
	"schema_migrations": true,
}

// 已记录的迁移版本
const (
	migrationBaseline       = "2026-01-baseline"
	migrationCooldownGrowth = "2026-03-key-health-cooldown-growth"
)

// migrateSQLite 执行SQLite数据库迁移
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, DialectSQLite)
}

// migrateMySQL 执行MySQL数据库迁移
func migrateMySQL(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, DialectMySQL)
}

// migrate 统一迁移逻辑（幂等，每次启动都执行）
func migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	tables := []func() *schema.TableBuilder{
		schema.DefineSchemaMigrationsTable, // 迁移版本表必须最先创建
		schema.DefineKeyHealthTable,
		schema.DefineRotationPointersTable,
	}

	for _, defineTable := range tables {
		tb := defineTable()

		if _, err := db.ExecContext(ctx, buildDDL(tb, dialect)); err != nil {
			return fmt.Errorf("create %s table: %w", tb.Name(), err)
		}

		// 增量迁移：早期 key_health 没有每日计数和冷却基数（2026-03新增）
		if tb.Name() == "key_health" {
			if err := ensureKeyHealthColumns(ctx, db, dialect); err != nil {
				return fmt.Errorf("migrate key_health columns: %w", err)
			}
		}

		for _, idx := range buildIndexes(tb, dialect) {
			if err := createIndex(ctx, db, idx, dialect); err != nil {
				return err
			}
		}
	}

	for _, version := range []string{migrationBaseline, migrationCooldownGrowth} {
		applied, err := isMigrationApplied(ctx, db, version)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if applied {
			continue
		}
		if err := recordMigration(ctx, db, version, dialect); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		log.Printf("[MIGRATE] 已记录迁移版本 %s", version)
	}
	return nil
}

// ensureKeyHealthColumns 确保 key_health 有 daily_failure_count / cooldown_duration_ms 列
func ensureKeyHealthColumns(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if dialect == DialectMySQL {
		return ensureMySQLColumns(ctx, db, "key_health", []columnDef{
			{name: "daily_failure_count", definition: "BIGINT NOT NULL DEFAULT 0"},
			{name: "cooldown_duration_ms", definition: "BIGINT NOT NULL DEFAULT 0"},
		})
	}
	return ensureSQLiteColumns(ctx, db, "key_health", []columnDef{
		{name: "daily_failure_count", definition: "INTEGER NOT NULL DEFAULT 0"},
		{name: "cooldown_duration_ms", definition: "INTEGER NOT NULL DEFAULT 0"},
	})
}

// columnDef 增量迁移列定义
type columnDef struct {
	name       string
	definition string
}

func ensureSQLiteColumns(ctx context.Context, db *sql.DB, table string, cols []columnDef) error {
	existingCols, err := sqliteExistingColumns(ctx, db, table)
	if err != nil {
		return err
	}

	for _, col := range cols {
		if existingCols[col.name] {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.definition)); err != nil {
			return fmt.Errorf("add %s: %w", col.name, err)
		}
		log.Printf("[MIGRATE] Added column %s.%s", table, col.name)
	}
	return nil
}

// ensureMySQLColumns 通用MySQL添加列函数（幂等操作）
func ensureMySQLColumns(ctx context.Context, db *sql.DB, table string, cols []columnDef) error {
	for _, col := range cols {
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA=DATABASE() AND TABLE_NAME=? AND COLUMN_NAME=?",
			table, col.name,
		).Scan(&count); err != nil {
			return fmt.Errorf("check %s field: %w", col.name, err)
		}
		if count > 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.definition)); err != nil {
			return fmt.Errorf("add %s column: %w", col.name, err)
		}
		log.Printf("[MIGRATE] Added column %s.%s", table, col.name)
	}
	return nil
}

func sqliteExistingColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	if !sqliteMigratableTables[table] {
		return nil, fmt.Errorf("invalid table name: %s", table)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("get table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	existingCols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		existingCols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return existingCols, nil
}

func buildDDL(tb *schema.TableBuilder, dialect Dialect) string {
	if dialect == DialectMySQL {
		return tb.BuildMySQL()
	}
	return tb.BuildSQLite()
}

func buildIndexes(tb *schema.TableBuilder, dialect Dialect) []schema.IndexDef {
	if dialect == DialectMySQL {
		return tb.GetIndexesMySQL()
	}
	return tb.GetIndexesSQLite()
}

func createIndex(ctx context.Context, db *sql.DB, idx schema.IndexDef, dialect Dialect) error {
	_, err := db.ExecContext(ctx, idx.SQL)
	if err == nil {
		return nil
	}
	// MySQL 不支持 CREATE INDEX IF NOT EXISTS，忽略重复索引错误
	if dialect == DialectMySQL && strings.Contains(err.Error(), "Duplicate key name") {
		return nil
	}
	return fmt.Errorf("create index %s: %w", idx.Name, err)
}

// isMigrationApplied 检查迁移是否已执行
func isMigrationApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// recordMigration 记录迁移已执行
func recordMigration(ctx context.Context, db *sql.DB, version string, dialect Dialect) error {
	var insertSQL string
	if dialect == DialectMySQL {
		insertSQL = `INSERT IGNORE INTO schema_migrations (version, applied_at) VALUES (?, UNIX_TIMESTAMP())`
	} else {
		insertSQL = `INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, unixepoch())`
	}
	_, err := db.ExecContext(ctx, insertSQL, version)
	return err
}
