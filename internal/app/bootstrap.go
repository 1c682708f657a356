package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"keypool/internal/config"
	"keypool/internal/cooldown"
	"keypool/internal/model"
	"keypool/internal/pool"
	"keypool/internal/provider"
	"keypool/internal/selector"
	"keypool/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Runtime 凭据池运行时（服务与CLI共用）
type Runtime struct {
	Env      *config.EnvConfig
	File     *config.FileConfig
	Store    storage.Store
	Manager  *cooldown.Manager
	Pool     *pool.Coordinator
	Metrics  *pool.Metrics
	Registry *prometheus.Registry
	Prober   *provider.HTTPCaller // 未配置 KEYPOOL_PROBE_URL 时为 nil
}

// LoadFileConfig 读取可选的yaml配置文件
func LoadFileConfig(env *config.EnvConfig) (*config.FileConfig, error) {
	if env.ConfigPath == "" {
		return config.DefaultFileConfig(), nil
	}
	return config.Load(env.ConfigPath)
}

// Bootstrap 按配置组装：注册表 → 存储 → 冷却管理器 → 协调器
// 优先级：环境变量 > 配置文件 > 默认值
func Bootstrap(ctx context.Context, env *config.EnvConfig) (*Runtime, error) {
	file, err := LoadFileConfig(env)
	if err != nil {
		return nil, err
	}

	reg, err := config.BuildRegistry(env, file)
	if err != nil {
		return nil, err
	}

	policy := env.ApplyPolicy(file.Policy)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	classifier, err := file.Classifier()
	if err != nil {
		return nil, fmt.Errorf("classification: %w", err)
	}
	strategy, err := env.ResolveStrategy(file.Strategy)
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	if msg := env.PointerWarning(); msg != "" {
		log.Printf("[WARN] %s", msg)
	}

	store, err := storage.NewStore(ctx, env)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pool.NewMetrics(promReg)

	mgr := cooldown.NewManager(store, classifier, policy)
	coord, err := pool.NewCoordinator(reg, store, mgr, pool.Options{
		Strategy:    strategy,
		PointerMode: env.PointerMode,
		MaxAttempts: env.MaxAttempts,
		Metrics:     metrics,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := &Runtime{
		Env:      env,
		File:     file,
		Store:    store,
		Manager:  mgr,
		Pool:     coord,
		Metrics:  metrics,
		Registry: promReg,
	}
	if env.ProbeURL != "" {
		rt.Prober = provider.NewHTTPCaller(env.ProbeURL, env.ProbeHeader)
	}

	log.Printf("[INFO] 凭据池已加载: env=%s keys=%d store=%s strategy=%s pointer=%s threshold=%d cooldown=%v growth=%s",
		env.Env, reg.Len(), env.StoreDriver, strategy, env.PointerMode, policy.FailureThreshold, policy.Cooldown, policy.Growth)
	return rt, nil
}

// ProbeTarget 返回探测器（未配置时为 nil 接口，避免 typed-nil）
func (r *Runtime) ProbeTarget() pool.Prober {
	if r.Prober == nil {
		return nil
	}
	return r.Prober
}

// ApplyFileConfig 热更新策略和分类规则（配置文件变化时调用）
// Key列表在运行期不可变，变化只记录警告
func (r *Runtime) ApplyFileConfig(file *config.FileConfig) error {
	classifier, err := file.Classifier()
	if err != nil {
		return err
	}
	if err := r.Manager.Reload(r.Env.ApplyPolicy(file.Policy), classifier); err != nil {
		return err
	}

	if r.Env.Strategy == "" {
		if s, err := selector.ParseStrategy(file.Strategy); err == nil && s != r.Pool.Strategy() {
			log.Printf("[WARN] 配置文件中的选择策略已变为 %s，需要重启才能生效（当前 %s）", s, r.Pool.Strategy())
		}
	}
	if len(r.Env.KeyIDs) == 0 && !sameIdentifiers(file.Pools[r.Env.Env], r.Pool.Registry()) {
		log.Printf("[WARN] 配置文件中的Key列表已变化，需要重启才能生效（env=%s）", r.Env.Env)
	}
	r.File = file
	return nil
}

func sameIdentifiers(entries []config.KeyEntry, reg *model.KeyRegistry) bool {
	if len(entries) != reg.Len() {
		return false
	}
	for i, e := range entries {
		if strings.TrimSpace(e.ID) != reg.At(i).Identifier {
			return false
		}
	}
	return true
}

// Close 释放存储连接
func (r *Runtime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	if err := r.Store.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
