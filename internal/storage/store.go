package storage

import (
	"context"
	"time"

	"keypool/internal/model"
)

// DefaultPointerName 默认轮询指针名称（同一存储可以服务多个池）
const DefaultPointerName = "default"

// ============================================================================
// 子接口定义（ISP原则：接口隔离）
// ============================================================================

// HealthReader 健康记录读取接口
// 记录不存在时返回隐式默认值（HEALTHY），调用方无需预先写入
type HealthReader interface {
	GetHealth(ctx context.Context, id string) (*model.HealthRecord, error)
	// GetAllHealth 单次往返批量读取，结果包含所有请求的标识符
	GetAllHealth(ctx context.Context, ids []string) (map[string]*model.HealthRecord, error)
	// ListHealth 返回所有已持久化的记录（按标识符排序）
	ListHealth(ctx context.Context) ([]*model.HealthRecord, error)
}

// HealthWriter 健康状态转换接口
// 每个写操作都是原子的读-改-写，返回写入后的记录
type HealthWriter interface {
	MarkSuccess(ctx context.Context, id string, now time.Time) (*model.HealthRecord, error)
	MarkFailure(ctx context.Context, id string, e model.ErrorLog, p model.EjectionPolicy, now time.Time) (*model.HealthRecord, error)
	// SetEjection 手动剔除到指定时间，不修改失败计数
	SetEjection(ctx context.Context, id string, until, now time.Time) (*model.HealthRecord, error)
	// ResetDailyFailures 清零所有Key的每日失败计数，返回受影响的记录数
	ResetDailyFailures(ctx context.Context) (int64, error)
}

// HealthStore Key健康记录存储
type HealthStore interface {
	HealthReader
	HealthWriter
}

// PointerStore 多实例共享的轮询指针
type PointerStore interface {
	// LoadPointer 读取指针，不存在时为0
	LoadPointer(ctx context.Context, name string) (int64, error)
	// CompareAndSwapPointer 当前值等于old时写入next，返回是否成功
	CompareAndSwapPointer(ctx context.Context, name string, old, next int64) (bool, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Store 数据持久化接口（组合所有子接口）
type Store interface {
	HealthStore
	PointerStore

	// Ping 存储连通性检查（健康检查接口使用）
	Ping(ctx context.Context) error

	// Close 关闭连接并释放资源
	Close() error
}
