package schema

// DefineSchemaMigrationsTable 迁移版本表（必须最先创建）
func DefineSchemaMigrationsTable() *TableBuilder {
	return NewTable("schema_migrations").
		Column("version VARCHAR(64) PRIMARY KEY").
		Column("applied_at BIGINT NOT NULL")
}

// DefineKeyHealthTable 定义key_health表结构（每个Key一行，不存在即视为HEALTHY）
//
// retry_at / last_checked_at 为Unix毫秒，0 表示空值
// recent_errors 为JSON数组，最新在前
func DefineKeyHealthTable() *TableBuilder {
	return NewTable("key_health").
		Column("identifier VARCHAR(191) PRIMARY KEY").
		Column("status VARCHAR(16) NOT NULL DEFAULT 'HEALTHY'").
		Column("failure_count BIGINT NOT NULL DEFAULT 0").
		Column("daily_failure_count BIGINT NOT NULL DEFAULT 0").
		Column("consecutive_failures BIGINT NOT NULL DEFAULT 0").
		Column("cooldown_duration_ms BIGINT NOT NULL DEFAULT 0").
		Column("retry_at BIGINT NOT NULL DEFAULT 0").
		Column("last_checked_at BIGINT NOT NULL DEFAULT 0").
		Column("recent_errors TEXT NOT NULL").
		Column("created_at BIGINT NOT NULL").
		Column("updated_at BIGINT NOT NULL").
		Index("idx_key_health_status", "status, retry_at")
}

// DefineRotationPointersTable 定义rotation_pointers表结构（多实例共享轮询指针）
func DefineRotationPointersTable() *TableBuilder {
	return NewTable("rotation_pointers").
		Column("name VARCHAR(64) PRIMARY KEY").
		Column("position BIGINT NOT NULL DEFAULT 0").
		Column("updated_at BIGINT NOT NULL")
}
