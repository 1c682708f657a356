package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"keypool/internal/config"
	"keypool/internal/storage/memory"
	redisstore "keypool/internal/storage/redis"
	sqlstore "keypool/internal/storage/sql"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// NewStore 根据配置创建存储实例（工厂模式）
//
// 四种驱动（KEYPOOL_STORE）：
//   - sqlite：默认，单机部署（SQLITE_PATH 默认 data/keypool.db）
//   - mysql：多实例共享健康状态（KEYPOOL_MYSQL）
//   - redis：多实例共享健康状态，低延迟（REDIS_URL）
//   - memory：进程内，重启丢失（测试与本地调试）
func NewStore(ctx context.Context, cfg *config.EnvConfig) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Print("[INFO] 使用内存存储（进程重启后健康状态丢失）")
		return memory.New(), nil

	case config.StoreMySQL:
		store, err := createMySQLStore(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("MySQL 初始化失败: %w", err)
		}
		log.Print("[INFO] 使用 MySQL 存储")
		return store, nil

	case config.StoreRedis:
		store, err := redisstore.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis 初始化失败: %w", err)
		}
		log.Print("[INFO] 使用 Redis 存储")
		return store, nil

	case config.StoreSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = resolveSQLitePath()
		}
		journalMode, err := validateJournalMode(cfg.JournalMode)
		if err != nil {
			return nil, err
		}
		store, err := createSQLiteStore(ctx, path, journalMode)
		if err != nil {
			return nil, fmt.Errorf("SQLite 初始化失败: %w", err)
		}
		log.Printf("[INFO] 使用 SQLite 存储: %s", path)
		return store, nil

	default:
		return nil, fmt.Errorf("未知存储驱动: %q", cfg.StoreDriver)
	}
}

// createMySQLStore 创建 MySQL 存储实例
func createMySQLStore(ctx context.Context, dsn string) (*sqlstore.SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("MySQL DSN不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开MySQL连接失败: %w", err)
	}

	db.SetMaxOpenConns(config.MySQLMaxOpenConns)
	db.SetMaxIdleConns(config.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(config.SQLiteConnMaxLifetime)

	// 测试连接（带超时，Fail-Fast）
	pingCtx, pingCancel := context.WithTimeout(ctx, config.StartupDBPingTimeout)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("MySQL连接测试失败（超时%v）: %w", config.StartupDBPingTimeout, err)
	}

	migrateCtx, migrateCancel := context.WithTimeout(ctx, config.StartupMigrationTimeout)
	defer migrateCancel()
	if err := migrateMySQL(migrateCtx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("MySQL迁移失败（超时%v）: %w", config.StartupMigrationTimeout, err)
	}

	return sqlstore.NewSQLStore(db, sqlstore.DialectMySQL), nil
}

// CreateSQLiteStore 直接创建 SQLite 存储实例（测试辅助函数）
// 生产代码应使用 NewStore() 工厂函数
func CreateSQLiteStore(path string) (Store, error) {
	s, err := createSQLiteStore(context.Background(), path, "WAL")
	if err != nil {
		return nil, err
	}
	return s, nil
}

// createSQLiteStore 内部函数，返回具体类型
func createSQLiteStore(ctx context.Context, path, journalMode string) (*sqlstore.SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil { //nolint:gosec // G301: 数据目录需要服务进程可写
		return nil, err
	}

	db, err := sql.Open("sqlite", buildSQLiteDSN(path, journalMode))
	if err != nil {
		return nil, fmt.Errorf("打开SQLite失败: %w", err)
	}

	// 强制单连接：database/sql 串行化所有事务（单写者模式），
	// 健康记录的读-改-写事务因此天然互斥
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(config.SQLiteConnMaxLifetime)

	migrateCtx, migrateCancel := context.WithTimeout(ctx, config.StartupMigrationTimeout)
	defer migrateCancel()
	if err := migrateSQLite(migrateCtx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SQLite迁移失败（超时%v）: %w", config.StartupMigrationTimeout, err)
	}

	return sqlstore.NewSQLStore(db, sqlstore.DialectSQLite), nil
}

// resolveSQLitePath 解析SQLite数据库路径（未设置SQLITE_PATH时调用）
// 优先使用默认路径 data/keypool.db，如果目录不可写则回退到系统临时目录
func resolveSQLitePath() string {
	defaultDir := filepath.Dir(config.DefaultSQLitePath)

	if isDirWritable(defaultDir) {
		return config.DefaultSQLitePath
	}
	if err := os.MkdirAll(defaultDir, 0o750); err == nil && isDirWritable(defaultDir) {
		return config.DefaultSQLitePath
	}

	tmpPath := filepath.Join(os.TempDir(), "keypool", filepath.Base(config.DefaultSQLitePath))
	log.Printf("════════════════════════════════════════════════════════════")
	log.Printf("[WARN] 默认路径 %s 不可写", defaultDir)
	log.Printf("[WARN] 健康状态将存储在临时目录: %s", tmpPath)
	log.Printf("[WARN] 临时目录数据可能在系统重启后丢失，生产环境请设置 SQLITE_PATH")
	log.Printf("════════════════════════════════════════════════════════════")
	return tmpPath
}

// isDirWritable 检查目录是否存在且可写
func isDirWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}

	testFile := filepath.Join(dir, fmt.Sprintf(".write_test_%d", os.Getpid()))
	f, err := os.Create(testFile) //nolint:gosec // G304: 路径由程序控制
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(testFile)
	return true
}

// buildSQLiteDSN 构建SQLite DSN
func buildSQLiteDSN(path, journalMode string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(%s)", path, journalMode)
}

// validateJournalMode 校验 SQLITE_JOURNAL_MODE（白名单，值会拼接进DSN）
func validateJournalMode(mode string) (string, error) {
	if mode == "" {
		return "WAL", nil
	}

	modeUpper := strings.ToUpper(strings.TrimSpace(mode))
	switch modeUpper {
	case "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
		return modeUpper, nil
	default:
		return "", fmt.Errorf("SQLITE_JOURNAL_MODE 值非法: %q（允许: DELETE, TRUNCATE, PERSIST, MEMORY, WAL, OFF）", mode)
	}
}
