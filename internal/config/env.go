package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"keypool/internal/model"
	"keypool/internal/selector"
	"keypool/internal/util"
)

// EnvConfig 统一环境变量配置结构
// 策略相关字段为零值表示未设置（沿用配置文件或默认值）
type EnvConfig struct {
	// 服务配置
	Port          string
	GinMode       string
	AdminPassword string

	// Key池配置
	Env        string   // 使用配置文件中的哪个池（batch / production / development）
	ConfigPath string   // yaml配置文件路径（可选）
	KeyIDs     []string // 环境变量名列表，变量值为密钥，变量名即标识符

	// 存储配置
	StoreDriver string
	SQLitePath  string
	JournalMode string
	MySQLDSN    string
	RedisURL    string
	PointerMode string

	// 选择策略（round_robin / failover），空表示沿用配置文件
	Strategy string

	// 剔除策略覆盖
	FailureThreshold int
	Cooldown         time.Duration
	MaxCooldown      time.Duration
	CooldownGrowth   string
	RecentErrorsCap  int

	// 调用配置
	MaxAttempts     int
	ReportQueueSize int
	ProbeURL        string
	ProbeHeader     string

	// 每日重置
	DailyReset        time.Duration
	DailyResetRestore bool
}

// LoadFromEnv 从环境变量加载配置并验证
func LoadFromEnv() (*EnvConfig, error) {
	cfg := &EnvConfig{}

	// 服务配置
	cfg.Port = getEnvOrDefault("PORT", DefaultPort)
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	cfg.GinMode = os.Getenv("GIN_MODE")
	cfg.AdminPassword = os.Getenv("KEYPOOL_ADMIN_PASS")

	// Key池配置
	cfg.Env = getEnvOrDefault("KEYPOOL_ENV", DefaultEnv)
	cfg.ConfigPath = os.Getenv("KEYPOOL_CONFIG")
	cfg.KeyIDs = util.ParseAPIKeys(os.Getenv("KEYPOOL_KEY_IDS"))

	// 存储配置
	cfg.StoreDriver = strings.ToLower(getEnvOrDefault("KEYPOOL_STORE", StoreSQLite))
	cfg.SQLitePath = os.Getenv("SQLITE_PATH")
	cfg.JournalMode = getEnvOrDefault("SQLITE_JOURNAL_MODE", "WAL")
	cfg.MySQLDSN = os.Getenv("KEYPOOL_MYSQL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.PointerMode = strings.ToLower(getEnvOrDefault("KEYPOOL_POINTER_MODE", PointerLocal))
	cfg.Strategy = strings.ToLower(strings.TrimSpace(os.Getenv("KEYPOOL_STRATEGY")))

	// 剔除策略覆盖
	cfg.FailureThreshold = getIntEnv("KEYPOOL_FAILURE_THRESHOLD", 0)
	cfg.RecentErrorsCap = getIntEnv("KEYPOOL_RECENT_ERRORS", 0)
	cfg.CooldownGrowth = os.Getenv("KEYPOOL_COOLDOWN_GROWTH")

	var err error
	if cfg.Cooldown, err = getDurationEnv("KEYPOOL_COOLDOWN", 0); err != nil {
		return nil, err
	}
	if cfg.MaxCooldown, err = getDurationEnv("KEYPOOL_MAX_COOLDOWN", 0); err != nil {
		return nil, err
	}

	// 调用配置
	cfg.MaxAttempts = getIntEnv("KEYPOOL_MAX_ATTEMPTS", 0)
	cfg.ReportQueueSize = getIntEnv("KEYPOOL_REPORT_QUEUE", DefaultReportQueueSize)
	cfg.ProbeURL = os.Getenv("KEYPOOL_PROBE_URL")
	cfg.ProbeHeader = getEnvOrDefault("KEYPOOL_PROBE_HEADER", DefaultProbeHeader)

	// 每日重置（显式设置为0时禁用）
	if cfg.DailyReset, err = getDurationEnv("KEYPOOL_DAILY_RESET", DefaultDailyResetInterval); err != nil {
		return nil, err
	}
	cfg.DailyResetRestore = getBoolEnv("KEYPOOL_DAILY_RESET_RESTORE", false)

	// [INFO] 配置验证
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return cfg, nil
}

// Validate 验证配置合法性
func (c *EnvConfig) Validate() error {
	// 端口范围验证
	if c.Port != "" && strings.HasPrefix(c.Port, ":") {
		portNum, err := strconv.Atoi(c.Port[1:])
		if err != nil || portNum < 1 || portNum > 65535 {
			return fmt.Errorf("无效端口号: %s", c.Port)
		}
	}

	switch c.StoreDriver {
	case StoreSQLite, StoreMemory:
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("KEYPOOL_STORE=mysql 必须配置 KEYPOOL_MYSQL")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("KEYPOOL_STORE=redis 必须配置 REDIS_URL")
		}
	default:
		return fmt.Errorf("未知存储驱动 KEYPOOL_STORE=%q（可选: sqlite, mysql, redis, memory）", c.StoreDriver)
	}

	switch c.PointerMode {
	case PointerLocal, PointerShared:
	default:
		return fmt.Errorf("未知轮询指针模式 KEYPOOL_POINTER_MODE=%q（可选: local, shared）", c.PointerMode)
	}
	if c.PointerMode == PointerShared && c.StoreDriver == StoreMemory {
		return fmt.Errorf("内存存储不支持共享轮询指针（KEYPOOL_POINTER_MODE=shared）")
	}

	if c.Strategy != "" {
		if _, err := selector.ParseStrategy(c.Strategy); err != nil {
			return fmt.Errorf("KEYPOOL_STRATEGY: %w", err)
		}
	}

	if c.CooldownGrowth != "" {
		if _, err := model.ParseCooldownGrowth(c.CooldownGrowth); err != nil {
			return err
		}
	}
	if c.Cooldown < 0 || c.MaxCooldown < 0 || c.DailyReset < 0 {
		return fmt.Errorf("时长配置不能为负数")
	}

	if c.ReportQueueSize < 1 || c.ReportQueueSize > 1000000 {
		return fmt.Errorf("ReportQueueSize 超出合理范围 [1, 1000000]: %d", c.ReportQueueSize)
	}

	return nil
}

// ApplyPolicy 将环境变量中已设置的策略字段覆盖到 base
func (c *EnvConfig) ApplyPolicy(base model.EjectionPolicy) model.EjectionPolicy {
	p := base
	if c.FailureThreshold > 0 {
		p.FailureThreshold = c.FailureThreshold
	}
	if c.Cooldown > 0 {
		p.Cooldown = c.Cooldown
	}
	if c.MaxCooldown > 0 {
		p.MaxCooldown = c.MaxCooldown
	}
	if c.CooldownGrowth != "" {
		if g, err := model.ParseCooldownGrowth(c.CooldownGrowth); err == nil {
			p.Growth = g
		}
	}
	if c.RecentErrorsCap > 0 {
		p.RecentErrorsCap = c.RecentErrorsCap
	}
	return p
}

// ResolveStrategy 选择策略：环境变量 > 配置文件 > round_robin
func (c *EnvConfig) ResolveStrategy(fileStrategy string) (selector.Strategy, error) {
	if c.Strategy != "" {
		return selector.ParseStrategy(c.Strategy)
	}
	return selector.ParseStrategy(fileStrategy)
}

// PointerWarning 多实例共享存储却使用进程内指针时返回提示，否则为空
// 此时健康状态共享，但各实例的轮询顺序互相独立
func (c *EnvConfig) PointerWarning() string {
	if c.PointerMode != PointerLocal {
		return ""
	}
	switch c.StoreDriver {
	case StoreMySQL, StoreRedis:
		return fmt.Sprintf("KEYPOOL_STORE=%s 为共享存储，但 KEYPOOL_POINTER_MODE=local：多实例之间不保证公平轮询，可设置 KEYPOOL_POINTER_MODE=shared", c.StoreDriver)
	}
	return ""
}

// 辅助函数：获取环境变量或默认值
func getEnvOrDefault(key, defaultValue string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultValue
}

// 辅助函数：获取正整数环境变量（非法值回退默认值）
func getIntEnv(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

// 辅助函数：获取时长环境变量
// 支持 Go 时长格式（1m、90s）和纯数字毫秒（60000）
func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("无效时长 %s=%q: %w", key, val, err)
	}
	return d, nil
}

// 辅助函数：获取布尔环境变量
func getBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}
