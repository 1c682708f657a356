// Package selector 轮询选择算法（纯函数，无I/O、无锁）
//
// 从指针位置开始环形扫描注册表，最多 len 步，返回第一个可选的Key。
// 可选 = HEALTHY，或 UNHEALTHY 但 retryAt 已过（观察期）。
package selector

import (
	"fmt"
	"strings"
	"time"

	"keypool/internal/model"
)

// Strategy Key选择策略
type Strategy string

const (
	// RoundRobin 从轮询指针开始扫描，每次选中后指针前进（默认）
	RoundRobin Strategy = "round_robin"
	// Failover 总是从第一个Key开始扫描，主Key可用时始终使用主Key，指针不前进
	Failover Strategy = "failover"
)

// ParseStrategy 解析选择策略（大小写不敏感，空值为 round_robin，sequential 为 failover 的别名）
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RoundRobin):
		return RoundRobin, nil
	case string(Failover), "sequential":
		return Failover, nil
	default:
		return "", fmt.Errorf("unknown key strategy %q: want round_robin|failover", s)
	}
}

// Result 一次选择的结果
type Result struct {
	Identifier string
	Index      int   // 选中Key在注册表中的位置，Exhausted 时为 -1
	Next       int64 // 下一次扫描的起点
	Exhausted  bool  // 没有任何可选Key
}

// Select 从 pointer 开始环形扫描，返回第一个可选的Key
//
// 选中位置 i 时 Next = (i+1) mod len；全部不可选时 Exhausted，Next 保持 pointer 不变
// snapshot 中缺失的标识符视为 HEALTHY（隐式默认记录）
func Select(reg *model.KeyRegistry, snapshot map[string]*model.HealthRecord, pointer int64, now time.Time) Result {
	return SelectExcluding(reg, snapshot, pointer, now, nil)
}

// SelectExcluding 同 Select，额外跳过 skip 返回 true 的标识符
// 用于同一次调用内的重试：已尝试过的Key不再选中
func SelectExcluding(reg *model.KeyRegistry, snapshot map[string]*model.HealthRecord, pointer int64, now time.Time, skip func(id string) bool) Result {
	n := reg.Len()
	if n == 0 {
		return Result{Index: -1, Next: pointer, Exhausted: true}
	}

	start := Normalize(pointer, n)
	for step := 0; step < n; step++ {
		i := (start + step) % n
		id := reg.At(i).Identifier

		if skip != nil && skip(id) {
			continue
		}
		if rec, ok := snapshot[id]; ok && rec != nil && !rec.Eligible(now) {
			continue
		}

		return Result{
			Identifier: id,
			Index:      i,
			Next:       int64((i + 1) % n),
		}
	}

	return Result{Index: -1, Next: pointer, Exhausted: true}
}

// Normalize 将任意指针值映射到 [0, n)（负数和越界值都合法）
func Normalize(pointer int64, n int) int {
	if n <= 0 {
		return 0
	}
	m := pointer % int64(n)
	if m < 0 {
		m += int64(n)
	}
	return int(m)
}
