// Package pool 凭据池协调器：发放凭据（Acquire）并回收调用结果（ReportOutcome）
//
// 轮询指针的提交是唯一的临界区：
//   - local 模式：进程内互斥锁覆盖 读快照 → 选择 → 提交指针
//   - shared 模式：存储层 CAS，多实例共享同一个指针，冲突时重读重选
//
// failover 策略不使用指针：每次从第一个Key开始扫描
package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"keypool/internal/config"
	"keypool/internal/cooldown"
	apperrors "keypool/internal/errors"
	"keypool/internal/model"
	"keypool/internal/selector"
	"keypool/internal/storage"
	"keypool/internal/util"
)

// ErrPoolExhausted 所有Key都在冷却中（使用 errors.Is 判断）
var ErrPoolExhausted = apperrors.PoolExhausted(0, time.Time{})

// reportTimeout 结果上报写存储的超时（与调用方的请求上下文解耦）
const reportTimeout = 5 * time.Second

// Credential 发放给调用方的凭据
type Credential struct {
	Identifier string
	Secret     string
}

// String 只打印标识符和脱敏后的密钥
func (c Credential) String() string {
	return fmt.Sprintf("%s(%s)", c.Identifier, util.MaskAPIKey(c.Secret))
}

// GoString 防止 %#v 泄漏密钥
func (c Credential) GoString() string {
	return c.String()
}

// Options 协调器选项
type Options struct {
	Strategy    selector.Strategy // 默认 selector.RoundRobin
	PointerMode string            // config.PointerLocal（默认）或 config.PointerShared
	PointerName string // 共享指针名称，默认 storage.DefaultPointerName
	CASRetries  int    // 共享指针CAS最大尝试次数，默认 config.DefaultPointerCASRetries
	MaxAttempts int    // Do 的最大尝试次数，0 表示注册表长度
	Metrics     *Metrics
}

// Coordinator 凭据池协调器
type Coordinator struct {
	reg     *model.KeyRegistry
	ids     []string
	store   storage.Store
	manager *cooldown.Manager
	metrics *Metrics

	strategy    selector.Strategy
	shared      bool
	pointerName string
	casRetries  int
	maxAttempts int

	mu           sync.Mutex
	localPointer int64
}

// NewCoordinator 创建协调器
func NewCoordinator(reg *model.KeyRegistry, store storage.Store, manager *cooldown.Manager, opts Options) (*Coordinator, error) {
	if reg == nil || reg.Len() == 0 {
		return nil, apperrors.NoKeysConfigured("")
	}
	if store == nil || manager == nil {
		return nil, apperrors.MissingConfigError("store")
	}

	c := &Coordinator{
		reg:         reg,
		ids:         reg.Identifiers(),
		store:       store,
		manager:     manager,
		metrics:     opts.Metrics,
		pointerName: opts.PointerName,
		casRetries:  opts.CASRetries,
		maxAttempts: opts.MaxAttempts,
	}

	strategy, err := selector.ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, apperrors.InvalidConfigError("strategy", err.Error())
	}
	c.strategy = strategy

	switch opts.PointerMode {
	case "", config.PointerLocal:
	case config.PointerShared:
		c.shared = true
	default:
		return nil, apperrors.InvalidConfigError("pointer_mode", fmt.Sprintf("unknown pointer mode %q", opts.PointerMode))
	}
	if c.pointerName == "" {
		c.pointerName = storage.DefaultPointerName
	}
	if c.casRetries <= 0 {
		c.casRetries = config.DefaultPointerCASRetries
	}
	if c.maxAttempts <= 0 || c.maxAttempts > reg.Len() {
		c.maxAttempts = reg.Len()
	}
	return c, nil
}

// Registry 凭据注册表
func (c *Coordinator) Registry() *model.KeyRegistry {
	return c.reg
}

// Manager 冷却管理器
func (c *Coordinator) Manager() *cooldown.Manager {
	return c.manager
}

// Shared 是否使用共享轮询指针
func (c *Coordinator) Shared() bool {
	return c.shared
}

// Strategy 选择策略
func (c *Coordinator) Strategy() selector.Strategy {
	return c.strategy
}

// Pointer 当前轮询指针（已归一化到 [0, len)），failover 策略始终为 0
func (c *Coordinator) Pointer(ctx context.Context) (int, error) {
	if c.strategy == selector.Failover {
		return 0, nil
	}
	if c.shared {
		p, err := c.store.LoadPointer(ctx, c.pointerName)
		if err != nil {
			return 0, err
		}
		return selector.Normalize(p, c.reg.Len()), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return selector.Normalize(c.localPointer, c.reg.Len()), nil
}

// Acquire 选择下一个可用的Key并推进轮询指针
// 没有可用Key时返回 ErrPoolExhausted（errors.Is 可判断），不阻塞等待
func (c *Coordinator) Acquire(ctx context.Context) (Credential, error) {
	return c.acquire(ctx, nil)
}

func (c *Coordinator) acquire(ctx context.Context, skip func(string) bool) (Credential, error) {
	var (
		res selector.Result
		err error
	)
	switch {
	case c.strategy == selector.Failover:
		res, err = c.acquireFailover(ctx, skip)
	case c.shared:
		res, err = c.acquireShared(ctx, skip)
	default:
		res, err = c.acquireLocal(ctx, skip)
	}
	if err != nil {
		switch {
		case apperrors.HasErrorCode(err, apperrors.ErrCodePoolExhausted):
			c.metrics.observeAcquire(AcquireExhausted)
		case apperrors.HasErrorCode(err, apperrors.ErrCodePointerContention):
			c.metrics.observeAcquire(AcquireContention)
		default:
			c.metrics.observeAcquire(AcquireError)
		}
		return Credential{}, err
	}

	c.metrics.observeAcquire(AcquireOK)
	key := c.reg.At(res.Index)
	return Credential{Identifier: key.Identifier, Secret: key.Secret}, nil
}

// acquireLocal 互斥锁覆盖整个 读快照 → 选择 → 提交指针
func (c *Coordinator) acquireLocal(ctx context.Context, skip func(string) bool) (selector.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.manager.Now()
	snapshot := c.snapshot(ctx)
	res := selector.SelectExcluding(c.reg, snapshot, c.localPointer, now, skip)
	if res.Exhausted {
		return res, c.exhaustedError(snapshot, now)
	}
	c.localPointer = res.Next
	return res, nil
}

// acquireShared 乐观并发：读指针 → 读快照 → 选择 → CAS 提交，冲突则重来
func (c *Coordinator) acquireShared(ctx context.Context, skip func(string) bool) (selector.Result, error) {
	for attempt := 0; attempt < c.casRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return selector.Result{}, err
		}

		pointer, err := c.store.LoadPointer(ctx, c.pointerName)
		if err != nil {
			return selector.Result{}, err
		}

		now := c.manager.Now()
		snapshot := c.snapshot(ctx)
		res := selector.SelectExcluding(c.reg, snapshot, pointer, now, skip)
		if res.Exhausted {
			return res, c.exhaustedError(snapshot, now)
		}

		ok, err := c.store.CompareAndSwapPointer(ctx, c.pointerName, pointer, res.Next)
		if err != nil {
			return selector.Result{}, err
		}
		if ok {
			return res, nil
		}
	}
	return selector.Result{}, apperrors.PointerContention(c.casRetries)
}

// acquireFailover 从第一个Key开始扫描，不读写指针，无需加锁
func (c *Coordinator) acquireFailover(ctx context.Context, skip func(string) bool) (selector.Result, error) {
	now := c.manager.Now()
	snapshot := c.snapshot(ctx)
	res := selector.SelectExcluding(c.reg, snapshot, 0, now, skip)
	if res.Exhausted {
		return res, c.exhaustedError(snapshot, now)
	}
	return res, nil
}

// snapshot 单次批量读取健康快照
// 存储不可用时降级为空快照（全部视为健康），保证请求路径可用
func (c *Coordinator) snapshot(ctx context.Context) map[string]*model.HealthRecord {
	snap, err := c.store.GetAllHealth(ctx, c.ids)
	if err != nil {
		util.SafePrintf("[WARN] 读取健康快照失败，按全部健康处理: %v", err)
		return nil
	}
	return snap
}

// exhaustedError 构造耗尽错误，附带最早恢复时间
func (c *Coordinator) exhaustedError(snapshot map[string]*model.HealthRecord, now time.Time) error {
	var earliest time.Time
	for _, rec := range snapshot {
		if rec == nil || !rec.InEjection(now) {
			continue
		}
		if earliest.IsZero() || rec.RetryAt.Before(earliest) {
			earliest = *rec.RetryAt
		}
	}
	return apperrors.PoolExhausted(c.reg.Len(), earliest)
}

// ReportOutcome 上报一次调用结果
// callErr 为 nil 表示成功；非 nil 时分类后决定是否记入Key健康
// 存储写入失败只返回错误（调用方记录日志），不影响已经完成的请求
func (c *Coordinator) ReportOutcome(ctx context.Context, id string, callErr error) (cooldown.Verdict, error) {
	key, ok := c.reg.Lookup(id)
	if !ok {
		return cooldown.Verdict{}, apperrors.UnknownKey(id)
	}

	v, err := c.manager.HandleOutcome(ctx, key, callErr)
	kind := "success"
	if callErr != nil {
		kind = v.Classification.Kind.String()
	}
	c.metrics.observeOutcome(id, kind, v.Ejected)
	if callErr == nil && err == nil {
		c.metrics.setEligible(id, true)
	}
	return v, err
}

// Do 使用池中的Key执行 fn，Key级失败时换Key重试
//
//   - 单次调用内同一个Key最多使用一次
//   - 最多尝试 min(MaxAttempts, 注册表长度) 次，保证全池剔除时也能终止
//   - 请求级失败直接返回（换Key没有意义）
//   - 每次结果同步上报，下一次选择能看到最新健康状态
func (c *Coordinator) Do(ctx context.Context, fn func(ctx context.Context, cred Credential) error) (Credential, error) {
	tried := make(map[string]bool, c.maxAttempts)
	skip := func(id string) bool { return tried[id] }

	var (
		lastErr  error
		lastCred Credential
	)
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		cred, err := c.acquire(ctx, skip)
		if err != nil {
			if lastErr != nil {
				return lastCred, apperrors.AttemptsExhausted(attempt, lastErr)
			}
			return Credential{}, err
		}
		tried[cred.Identifier] = true

		callErr := fn(ctx, cred)

		reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		v, repErr := c.ReportOutcome(reportCtx, cred.Identifier, callErr)
		cancel()
		if repErr != nil {
			util.SafePrintf("[WARN] 上报Key %s 调用结果失败: %v", cred.Identifier, repErr)
		}

		if callErr == nil {
			return cred, nil
		}
		if v.Action == cooldown.ActionReturnClient {
			return cred, callErr
		}
		lastErr, lastCred = callErr, cred

		// 调用方已放弃，不再换Key
		if ctx.Err() != nil {
			return cred, callErr
		}
		if attempt+1 < c.maxAttempts {
			log.Printf("[INFO] Key %s 调用失败（%s），换Key重试 %d/%d",
				cred.Identifier, v.Classification.ErrorType, attempt+2, c.maxAttempts)
		}
	}
	return lastCred, apperrors.AttemptsExhausted(c.maxAttempts, lastErr)
}
