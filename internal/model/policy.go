package model

import (
	"fmt"
	"strings"
	"time"
)

// CooldownGrowth 重复剔除时冷却时长的增长策略
type CooldownGrowth string

const (
	GrowthFixed       CooldownGrowth = "fixed"       // 每次剔除使用相同冷却时长
	GrowthExponential CooldownGrowth = "exponential" // 观察期内再次失败时翻倍，直到上限
)

// ParseCooldownGrowth 解析增长策略（大小写不敏感，空值为 fixed）
func ParseCooldownGrowth(s string) (CooldownGrowth, error) {
	switch CooldownGrowth(strings.ToLower(strings.TrimSpace(s))) {
	case "", GrowthFixed:
		return GrowthFixed, nil
	case GrowthExponential:
		return GrowthExponential, nil
	default:
		return "", fmt.Errorf("unknown cooldown growth %q: want fixed|exponential", s)
	}
}

// 默认剔除策略
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 1 * time.Minute
	DefaultMaxCooldown      = 30 * time.Minute
)

// EjectionPolicy 剔除策略
type EjectionPolicy struct {
	FailureThreshold int            `json:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration  `json:"cooldown" yaml:"cooldown"`
	MaxCooldown      time.Duration  `json:"max_cooldown" yaml:"max_cooldown"`
	Growth           CooldownGrowth `json:"growth" yaml:"growth"`
	RecentErrorsCap  int            `json:"recent_errors" yaml:"recent_errors"`
}

// DefaultEjectionPolicy 默认策略：连续3次失败剔除1分钟，固定冷却
func DefaultEjectionPolicy() EjectionPolicy {
	return EjectionPolicy{
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
		MaxCooldown:      DefaultMaxCooldown,
		Growth:           GrowthFixed,
		RecentErrorsCap:  DefaultRecentErrorsCap,
	}
}

// Validate 校验策略合法性
func (p EjectionPolicy) Validate() error {
	if p.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", p.FailureThreshold)
	}
	if p.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %v", p.Cooldown)
	}
	if p.Growth == GrowthExponential && p.MaxCooldown < p.Cooldown {
		return fmt.Errorf("max_cooldown (%v) must be >= cooldown (%v)", p.MaxCooldown, p.Cooldown)
	}
	if _, err := ParseCooldownGrowth(string(p.Growth)); err != nil {
		return err
	}
	if p.RecentErrorsCap < 0 {
		return fmt.Errorf("recent_errors must not be negative, got %d", p.RecentErrorsCap)
	}
	return nil
}

// NextCooldown 根据上一次冷却时长计算本次冷却时长
//   - fixed: 始终返回 Cooldown
//   - exponential: 首次为 Cooldown，之后翻倍，上限 MaxCooldown
func (p EjectionPolicy) NextCooldown(prev time.Duration) time.Duration {
	base := p.Cooldown
	if base <= 0 {
		base = DefaultCooldown
	}
	if p.Growth != GrowthExponential || prev <= 0 {
		return base
	}

	limit := p.MaxCooldown
	if limit <= 0 {
		limit = DefaultMaxCooldown
	}
	next := prev * 2
	if next < base {
		next = base
	}
	if next > limit {
		next = limit
	}
	return next
}

// WithDefaults 未设置（零值或非法）的字段回落到默认值
func (p EjectionPolicy) WithDefaults() EjectionPolicy {
	p.FailureThreshold = p.threshold()
	p.RecentErrorsCap = p.recentErrorsCap()
	if p.Cooldown <= 0 {
		p.Cooldown = DefaultCooldown
	}
	if p.MaxCooldown <= 0 {
		p.MaxCooldown = DefaultMaxCooldown
	}
	if p.MaxCooldown < p.Cooldown {
		p.MaxCooldown = p.Cooldown
	}
	if g, err := ParseCooldownGrowth(string(p.Growth)); err == nil {
		p.Growth = g
	} else {
		p.Growth = GrowthFixed
	}
	return p
}

func (p EjectionPolicy) threshold() int {
	if p.FailureThreshold < 1 {
		return DefaultFailureThreshold
	}
	return p.FailureThreshold
}

func (p EjectionPolicy) recentErrorsCap() int {
	if p.RecentErrorsCap <= 0 {
		return DefaultRecentErrorsCap
	}
	return p.RecentErrorsCap
}
