package config

import "time"

// 服务配置常量
const (
	// DefaultPort 默认监听端口
	DefaultPort = ":8080"

	// DefaultEnv 默认Key池环境（对应配置文件 pools 下的分组）
	DefaultEnv = "development"

	// DefaultShutdownTimeout 优雅关闭超时
	DefaultShutdownTimeout = 10 * time.Second
)

// 凭据池配置常量
const (
	// DefaultReportQueueSize 异步结果上报队列长度
	DefaultReportQueueSize = 1000

	// DefaultPointerCASRetries 共享轮询指针CAS最大重试次数
	DefaultPointerCASRetries = 16

	// DefaultDailyResetInterval 每日失败计数重置间隔（0=禁用）
	DefaultDailyResetInterval = 24 * time.Hour

	// DefaultProbeHeader 探测请求携带Key的请求头（Gemini风格）
	DefaultProbeHeader = "x-goog-api-key"

	// DefaultProbeTimeout 单次探测超时
	DefaultProbeTimeout = 30 * time.Second
)

// 存储驱动
const (
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// 轮询指针模式
const (
	// PointerLocal 进程内指针（互斥锁保护）
	PointerLocal = "local"
	// PointerShared 存储层共享指针（CAS更新，多实例公平轮询）
	PointerShared = "shared"
)

// HTTP客户端配置常量（Provider调用）
const (
	// HTTPDialTimeout DNS解析+TCP连接建立超时
	HTTPDialTimeout = 30 * time.Second

	// HTTPKeepAliveInterval TCP keepalive间隔
	HTTPKeepAliveInterval = 15 * time.Second

	// HTTPTLSHandshakeTimeout TLS握手超时
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPMaxIdleConns 全局空闲连接池大小
	HTTPMaxIdleConns = 100

	// HTTPMaxIdleConnsPerHost 单host空闲连接数
	HTTPMaxIdleConnsPerHost = 5

	// HTTPMaxErrorBodyBytes 读取上游错误响应体的上限（用于分类）
	HTTPMaxErrorBodyBytes = 64 * 1024
)

// SQLite / MySQL 连接池配置常量
const (
	// DefaultSQLitePath 默认SQLite数据库路径
	DefaultSQLitePath = "data/keypool.db"

	// SQLiteConnMaxLifetime 连接最大生命周期
	SQLiteConnMaxLifetime = 5 * time.Minute

	// MySQLMaxOpenConns MySQL最大连接数
	MySQLMaxOpenConns = 10

	// MySQLMaxIdleConns MySQL最大空闲连接数
	MySQLMaxIdleConns = 10

	// StartupDBPingTimeout 启动时数据库连通性检查超时
	StartupDBPingTimeout = 10 * time.Second

	// StartupMigrationTimeout 启动时迁移超时
	StartupMigrationTimeout = 30 * time.Second
)

// Redis配置常量
const (
	// RedisKeyPrefix Redis key前缀
	RedisKeyPrefix = "keypool:"

	// RedisPoolSize 连接池大小
	RedisPoolSize = 10

	// RedisMinIdleConns 最小空闲连接数
	RedisMinIdleConns = 2

	// RedisDialTimeout 连接超时
	RedisDialTimeout = 3 * time.Second

	// RedisOpTimeout 单次读写超时
	RedisOpTimeout = 2 * time.Second

	// RedisTxRetries WATCH事务冲突最大重试次数（每次重试带随机退避）
	RedisTxRetries = 50
)

// 管理接口鉴权配置常量
const (
	// AuthMaxFailedAttempts 单IP最大连续鉴权失败次数
	AuthMaxFailedAttempts = 5

	// AuthLockoutDuration 超过失败次数后的锁定时长
	AuthLockoutDuration = 15 * time.Minute

	// AuthAttemptResetInterval 失败计数重置间隔
	AuthAttemptResetInterval = 1 * time.Hour
)
