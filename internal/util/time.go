package util

import (
	"time"
)

// 存储层统一使用Unix毫秒时间戳，0 表示空值（retryAt 未设置）

// ToUnixMillis 安全转换time.Time到Unix毫秒时间戳（零值时间返回0）
func ToUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ToUnixMillisPtr 转换可空时间（nil 返回0）
func ToUnixMillisPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return ToUnixMillis(*t)
}

// FromUnixMillis 毫秒时间戳转time.Time（0 返回零值）
func FromUnixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// FromUnixMillisPtr 毫秒时间戳转可空时间（0 返回nil）
func FromUnixMillisPtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

// CalculateCooldownDuration 计算剩余冷却时长（毫秒），已过期返回0
func CalculateCooldownDuration(until time.Time, now time.Time) int64 {
	if until.IsZero() || !until.After(now) {
		return 0
	}
	return int64(until.Sub(now) / time.Millisecond)
}

// NextDailyReset 计算下一次每日重置时间（本地时区零点）
func NextDailyReset(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
