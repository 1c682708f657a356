// Package cooldown 提供Key的冷却决策管理
// 将调用结果分类后驱动健康状态转换（成功恢复 / Key级失败计数与剔除 / 请求级失败忽略）
package cooldown

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	apperrors "keypool/internal/errors"
	"keypool/internal/model"
	"keypool/internal/storage"
	"keypool/internal/util"
)

// Action 表示结果处理后的建议行动类型。
type Action int

// Action 常量定义结果处理后的建议行动。
const (
	ActionNone         Action = iota // ActionNone 调用成功，无需后续动作
	ActionRetryKey                   // ActionRetryKey Key级失败，可以换一个Key重试
	ActionReturnClient               // ActionReturnClient 请求级失败，换Key也无济于事，直接返回调用方
)

// String 行动名称（日志与接口输出）
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRetryKey:
		return "retry_key"
	case ActionReturnClient:
		return "return_client"
	default:
		return "unknown"
	}
}

// Verdict 一次结果上报的处理结论
type Verdict struct {
	Action         Action
	Classification util.Classification
	Record         *model.HealthRecord // 写入后的健康记录；请求级失败不写存储，为 nil
	Ejected        bool                // 本次失败触发（或延长）了剔除
}

// Manager 冷却管理器
// 策略和分类器可在运行时热更新（配置文件变化），读取路径无锁
type Manager struct {
	store      storage.HealthStore
	classifier atomic.Pointer[util.Classifier]
	policy     atomic.Pointer[model.EjectionPolicy]
	now        func() time.Time
}

// NewManager 创建冷却管理器实例
// classifier 为 nil 时使用默认分类表；policy 中未设置的字段使用默认值
func NewManager(store storage.HealthStore, classifier *util.Classifier, policy model.EjectionPolicy) *Manager {
	m := &Manager{store: store, now: time.Now}
	policy = policy.WithDefaults()
	if classifier == nil {
		classifier = util.DefaultClassifier()
	}
	m.classifier.Store(classifier)
	m.policy.Store(&policy)
	return m
}

// SetClock 替换时钟（测试使用）
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Now 当前时间（与状态转换使用同一时钟）
func (m *Manager) Now() time.Time {
	return m.now()
}

// Policy 当前剔除策略
func (m *Manager) Policy() model.EjectionPolicy {
	return *m.policy.Load()
}

// Classifier 当前分类器
func (m *Manager) Classifier() *util.Classifier {
	return m.classifier.Load()
}

// Reload 热更新策略和分类器（配置文件变化时调用）
// 非法策略被拒绝，原配置保持不变
func (m *Manager) Reload(policy model.EjectionPolicy, classifier *util.Classifier) error {
	if err := policy.Validate(); err != nil {
		return apperrors.InvalidConfigError("policy", err.Error())
	}
	policy = policy.WithDefaults()
	if classifier != nil {
		m.classifier.Store(classifier)
	}
	m.policy.Store(&policy)
	log.Printf("[INFO] 剔除策略已更新: threshold=%d cooldown=%v max=%v growth=%s",
		policy.FailureThreshold, policy.Cooldown, policy.MaxCooldown, policy.Growth)
	return nil
}

// Classify 对调用错误分类
func (m *Manager) Classify(err error) util.Classification {
	return m.classifier.Load().Classify(err)
}

// HandleOutcome 统一结果处理与冷却决策
//
// 输入:
//   - key: 本次使用的凭据（密钥只用于错误信息脱敏，不落盘不打印）
//   - callErr: Provider调用结果，nil 表示成功
//
// 返回:
//   - Verdict: 分类结论、建议行动和写入后的记录
//   - error: 存储写入失败（调用方只应记录，不能影响请求路径）
func (m *Manager) HandleOutcome(ctx context.Context, key model.KeyRecord, callErr error) (Verdict, error) {
	now := m.now()

	// 1. 成功：恢复健康
	if callErr == nil {
		rec, err := m.store.MarkSuccess(ctx, key.Identifier, now)
		if err != nil {
			return Verdict{Action: ActionNone}, err
		}
		return Verdict{Action: ActionNone, Record: rec}, nil
	}

	// 2. 分类
	c := m.Classify(callErr)
	switch c.Kind {
	case util.KindRequestSpecific:
		// 请求级失败：不降低Key健康度
		return Verdict{Action: ActionReturnClient, Classification: c}, nil

	case util.KindKeySpecific:
		policy := m.Policy()
		entry := model.ErrorLog{
			ErrorType:    c.ErrorType,
			ErrorMessage: util.SanitizeErrorMessage(c.Message, key.Secret),
			Timestamp:    now,
		}
		rec, err := m.store.MarkFailure(ctx, key.Identifier, entry, policy, now)
		if err != nil {
			return Verdict{Action: ActionRetryKey, Classification: c}, err
		}

		v := Verdict{
			Action:         ActionRetryKey,
			Classification: c,
			Record:         rec,
			Ejected:        rec.InEjection(now),
		}
		if v.Ejected {
			util.SafePrintf("[EJECT] Key %s 连续失败%d次，冷却至 %s（%s）",
				key.Identifier, rec.ConsecutiveFailures, rec.RetryAt.Format(time.RFC3339), c.ErrorType)
		}
		return v, nil

	default:
		return Verdict{Action: ActionNone, Classification: c}, nil
	}
}

// Eject 手动剔除Key到指定时间（管理操作）
func (m *Manager) Eject(ctx context.Context, id string, d time.Duration) (*model.HealthRecord, error) {
	if d <= 0 {
		return nil, apperrors.InvalidConfigError("duration", "eject duration must be positive")
	}
	now := m.now()
	rec, err := m.store.SetEjection(ctx, id, now.Add(d), now)
	if err != nil {
		return nil, err
	}
	log.Printf("[EJECT] Key %s 手动剔除 %v", id, d)
	return rec, nil
}

// Restore 手动恢复Key（等同一次成功）
func (m *Manager) Restore(ctx context.Context, id string) (*model.HealthRecord, error) {
	rec, err := m.store.MarkSuccess(ctx, id, m.now())
	if err != nil {
		return nil, err
	}
	log.Printf("[RECOVER] Key %s 已手动恢复", id)
	return rec, nil
}

// ResetDaily 每日重置：清零每日失败计数，restore 为 true 时同时恢复所有Key
func (m *Manager) ResetDaily(ctx context.Context, ids []string, restore bool) (int64, error) {
	n, err := m.store.ResetDailyFailures(ctx)
	if err != nil {
		return 0, err
	}

	if restore {
		var errs []error
		for _, id := range ids {
			if _, err := m.store.MarkSuccess(ctx, id, m.now()); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return n, err
		}
	}

	log.Printf("[INFO] 每日失败计数已重置: %d 个Key（恢复全部: %v）", n, restore)
	return n, nil
}
