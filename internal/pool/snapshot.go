package pool

import (
	"context"
	"time"

	"keypool/internal/cooldown"
	apperrors "keypool/internal/errors"
	"keypool/internal/model"
)

// Prober 对单个Key发起一次探测调用（provider.HTTPCaller 实现）
type Prober interface {
	Probe(ctx context.Context, secret string) error
}

// ProbeFunc 函数适配器
type ProbeFunc func(ctx context.Context, secret string) error

// Probe 实现 Prober
func (f ProbeFunc) Probe(ctx context.Context, secret string) error {
	return f(ctx, secret)
}

// Probe 显式探测指定Key，不经过轮询指针
// 成功清除观察期/剔除；失败按正常流程分类并记录
func (c *Coordinator) Probe(ctx context.Context, id string, prober Prober) (cooldown.Verdict, error) {
	key, ok := c.reg.Lookup(id)
	if !ok {
		return cooldown.Verdict{}, apperrors.UnknownKey(id)
	}
	if prober == nil {
		return cooldown.Verdict{}, apperrors.MissingConfigError("probe_url")
	}

	callErr := prober.Probe(ctx, key.Secret)
	return c.ReportOutcome(context.WithoutCancel(ctx), id, callErr)
}

// KeyView 单个Key的只读视图（管理接口 / CLI），不含密钥
type KeyView struct {
	Position int                 `json:"position"`
	State    string              `json:"state"` // healthy | probation | ejected
	Health   *model.HealthRecord `json:"health"`
	Next     bool                `json:"next"` // 下一次 Acquire 的扫描起点
}

// Snapshot 按注册顺序返回所有Key的健康视图，同时刷新 key_eligible 指标
func (c *Coordinator) Snapshot(ctx context.Context) ([]KeyView, error) {
	snap, err := c.store.GetAllHealth(ctx, c.ids)
	if err != nil {
		return nil, err
	}
	pointer, err := c.Pointer(ctx)
	if err != nil {
		return nil, err
	}

	now := c.manager.Now()
	views := make([]KeyView, len(c.ids))
	for i, id := range c.ids {
		rec := snap[id]
		if rec == nil {
			rec = model.DefaultHealthRecord(id)
		}
		views[i] = KeyView{
			Position: i,
			State:    rec.State(now),
			Health:   rec,
			Next:     i == pointer,
		}
		c.metrics.setEligible(id, rec.Eligible(now))
	}
	return views, nil
}

// Counts 统计各状态Key数量（健康检查接口使用）
func Counts(views []KeyView) map[string]int {
	counts := map[string]int{"healthy": 0, "probation": 0, "ejected": 0}
	for _, v := range views {
		counts[v.State]++
	}
	return counts
}

// NextRetry 最早恢复时间，没有剔除中的Key时为零值
func NextRetry(views []KeyView, now time.Time) time.Time {
	var earliest time.Time
	for _, v := range views {
		if v.Health == nil || !v.Health.InEjection(now) {
			continue
		}
		if earliest.IsZero() || v.Health.RetryAt.Before(earliest) {
			earliest = *v.Health.RetryAt
		}
	}
	return earliest
}
