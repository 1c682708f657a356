package sql

import (
	"context"
	"database/sql"
)

// 支持的方言名称
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

// SQLStore 通用SQL存储实现
// 支持 SQLite 和 MySQL（时间统一存Unix毫秒，两种方言只在加锁与插入语法上有差异）
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore 创建通用SQL存储实例
// db: 数据库连接（由调用方初始化并完成迁移）
// dialect: "sqlite" 或 "mysql"
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Dialect 返回方言名称
func (s *SQLStore) Dialect() string {
	return s.dialect
}

// IsMySQL 是否为MySQL方言
func (s *SQLStore) IsMySQL() bool {
	return s.dialect == DialectMySQL
}

// Ping 存储连通性检查
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// insertIgnore 已存在时忽略的插入前缀
func (s *SQLStore) insertIgnore() string {
	if s.IsMySQL() {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

// forUpdate 行锁后缀（SQLite 单连接串行化，无需显式加锁）
func (s *SQLStore) forUpdate() string {
	if s.IsMySQL() {
		return " FOR UPDATE"
	}
	return ""
}
