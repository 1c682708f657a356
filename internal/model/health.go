package model

import (
	"time"
)

// HealthStatus Key健康状态
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "HEALTHY"
	StatusUnhealthy HealthStatus = "UNHEALTHY"
)

// IsValid 校验状态值（存储层读出脏数据时使用）
func (s HealthStatus) IsValid() bool {
	return s == StatusHealthy || s == StatusUnhealthy
}

// DefaultRecentErrorsCap recentErrors 默认容量
const DefaultRecentErrorsCap = 5

// ErrorLog 单次失败记录
type ErrorLog struct {
	ErrorType    string    `json:"errorType"`
	ErrorMessage string    `json:"errorMessage"`
	Timestamp    time.Time `json:"timestamp"`
}

// HealthRecord 单个Key的持久化健康记录
//
// 不变量：
//   - 记录不存在 ≡ {HEALTHY, ConsecutiveFailures=0, RetryAt=nil}
//   - Status == UNHEALTHY ⇒ RetryAt != nil
//   - ConsecutiveFailures <= FailureCount, DailyFailureCount <= FailureCount
type HealthRecord struct {
	Identifier          string       `json:"identifier"`
	Status              HealthStatus `json:"status"`
	FailureCount        int64        `json:"failureCount"`
	DailyFailureCount   int64        `json:"dailyFailureCount"`
	ConsecutiveFailures int64        `json:"consecutiveFailures"`
	CooldownDurationMs  int64        `json:"cooldownDurationMs"` // 最近一次冷却时长，指数增长的基数
	RetryAt             *time.Time   `json:"retryAt"`
	LastCheckedAt       time.Time    `json:"lastCheckedAt"`
	RecentErrors        []ErrorLog   `json:"recentErrors"`
}

// DefaultHealthRecord 隐式默认记录（无需预先写入存储）
func DefaultHealthRecord(id string) *HealthRecord {
	return &HealthRecord{
		Identifier:   id,
		Status:       StatusHealthy,
		RecentErrors: []ErrorLog{},
	}
}

// InEjection 冷却中：UNHEALTHY 且 retryAt 在未来
func (r *HealthRecord) InEjection(now time.Time) bool {
	return r.Status == StatusUnhealthy && r.RetryAt != nil && r.RetryAt.After(now)
}

// InProbation 观察期：UNHEALTHY 但 retryAt 已过，可以再次被选中
func (r *HealthRecord) InProbation(now time.Time) bool {
	return r.Status == StatusUnhealthy && !r.InEjection(now)
}

// Eligible 是否可被轮询选中
func (r *HealthRecord) Eligible(now time.Time) bool {
	return !r.InEjection(now)
}

// State 派生状态名（供管理接口和CLI展示）
func (r *HealthRecord) State(now time.Time) string {
	switch {
	case r.InEjection(now):
		return "ejected"
	case r.InProbation(now):
		return "probation"
	default:
		return "healthy"
	}
}

// RecordSuccess 成功：恢复健康并清零连续失败（幂等）
func (r *HealthRecord) RecordSuccess(now time.Time) {
	r.Status = StatusHealthy
	r.ConsecutiveFailures = 0
	r.CooldownDurationMs = 0
	r.RetryAt = nil
	r.LastCheckedAt = now
}

// RecordFailure 记录一次Key相关失败，跨过阈值时剔除
// 返回 true 表示本次失败触发了剔除（含观察期内再次失败导致的延长）
func (r *HealthRecord) RecordFailure(e ErrorLog, p EjectionPolicy, now time.Time) bool {
	r.FailureCount++
	r.DailyFailureCount++
	r.ConsecutiveFailures++
	r.LastCheckedAt = now
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	r.RecentErrors = AppendRecentError(r.RecentErrors, e, p.recentErrorsCap())

	if r.ConsecutiveFailures < int64(p.threshold()) {
		return false
	}

	prev := time.Duration(r.CooldownDurationMs) * time.Millisecond
	next := p.NextCooldown(prev)
	until := now.Add(next)
	r.Status = StatusUnhealthy
	r.RetryAt = &until
	r.CooldownDurationMs = int64(next / time.Millisecond)
	return true
}

// Eject 手动剔除到指定时间（管理操作，不修改失败计数）
func (r *HealthRecord) Eject(until, now time.Time) {
	u := until
	r.Status = StatusUnhealthy
	r.RetryAt = &u
	r.LastCheckedAt = now
	if d := until.Sub(now); d > 0 {
		r.CooldownDurationMs = int64(d / time.Millisecond)
	}
}

// Clone 深拷贝，存储层返回副本避免调用方修改内部状态
func (r *HealthRecord) Clone() *HealthRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.RetryAt != nil {
		t := *r.RetryAt
		c.RetryAt = &t
	}
	c.RecentErrors = make([]ErrorLog, len(r.RecentErrors))
	copy(c.RecentErrors, r.RecentErrors)
	return &c
}

// AppendRecentError 写入环形缓冲：最新在前，超出容量时丢弃最旧
func AppendRecentError(list []ErrorLog, e ErrorLog, capacity int) []ErrorLog {
	if capacity <= 0 {
		capacity = DefaultRecentErrorsCap
	}
	n := len(list) + 1
	if n > capacity {
		n = capacity
	}
	out := make([]ErrorLog, n)
	out[0] = e
	copy(out[1:], list)
	return out
}
