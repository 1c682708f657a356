package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"keypool/internal/config"
	apperrors "keypool/internal/errors"
	"keypool/internal/model"
	"keypool/internal/provider"
	"keypool/internal/selector"
	"keypool/internal/storage/memory"
	"keypool/internal/testutil"
	"keypool/internal/util"
)

func TestHealth(t *testing.T) {
	te := newTestEnv(t, []string{"A", "B"})
	ctx := context.Background()

	w := te.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	resp := testutil.MustParseAPIResponse[HealthStatus](t, w.Body.Bytes())
	if !resp.Data.Healthy || resp.Data.Metrics.Keys != 2 || resp.Data.Metrics.Healthy != 2 {
		t.Fatalf("健康检查异常: %+v", resp.Data.Metrics)
	}

	for _, id := range []string{"A", "B"} {
		if _, err := te.rt.Manager.Eject(ctx, id, time.Minute); err != nil {
			t.Fatalf("Eject %s: %v", id, err)
		}
	}

	w = te.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("全部剔除后 status = %d, want 503", w.Code)
	}
	resp = testutil.MustParseAPIResponse[HealthStatus](t, w.Body.Bytes())
	if resp.Data.Metrics.Ejected != 2 || resp.Data.Metrics.NextRetryAt == nil {
		t.Fatalf("剔除统计异常: %+v", resp.Data.Metrics)
	}
	if !resp.Data.Metrics.NextRetryAt.Equal(te.now.Add(time.Minute)) {
		t.Errorf("next_retry_at = %v", resp.Data.Metrics.NextRetryAt)
	}
}

type unreachableStore struct {
	*memory.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestHealth_StoreUnreachable(t *testing.T) {
	te := newTestEnv(t, []string{"A"})
	te.rt.Store = unreachableStore{te.store}

	w := te.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	resp := testutil.MustParseAPIResponse[HealthStatus](t, w.Body.Bytes())
	if resp.Data.Healthy || resp.Data.Store != "unreachable" {
		t.Fatalf("存储不可用时应不健康: %+v", resp.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	te := newTestEnv(t, []string{"A"})
	if _, err := te.rt.Pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	w := te.do(t, http.MethodGet, "/metrics", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "keypool_acquire_total") {
		t.Fatalf("指标输出缺少 keypool_acquire_total:\n%s", w.Body.String())
	}
}

func TestServer_StartShutdown(t *testing.T) {
	defer testutil.CheckGoroutineLeak(t)()

	path := filepath.Join(t.TempDir(), "keypool.yaml")
	if err := os.WriteFile(path, []byte("policy:\n  failure_threshold: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	te := newTestEnv(t, []string{"A"})
	te.rt.Env.DailyReset = time.Hour
	te.rt.Env.ConfigPath = path
	te.srv.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := te.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// 重复关闭是安全的
	if err := te.srv.Shutdown(ctx); err != nil {
		t.Fatalf("第二次 Shutdown: %v", err)
	}
	if te.srv.Reporter().Report("A", nil) {
		t.Error("关闭后不应再接收上报")
	}
}

func TestRunDailyReset(t *testing.T) {
	te := newTestEnv(t, []string{"A"})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = te.rt.Pool.ReportOutcome(ctx, "A", &provider.StatusError{Code: 500})
	}

	te.srv.runDailyReset(true)

	rec, _ := te.store.GetHealth(ctx, "A")
	if rec.DailyFailureCount != 0 || rec.Status != model.StatusHealthy {
		t.Fatalf("每日重置后状态异常: %+v", rec)
	}
}

func TestBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keypool.yaml")
	yaml := `
pools:
  staging:
    - id: PRIMARY
      secret_env: KEYPOOL_TEST_PRIMARY
    - id: BACKUP
      secret: sk-backup-inline-0002
strategy: failover
policy:
  failure_threshold: 4
  cooldown: 2m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEYPOOL_STORE", config.StoreMemory)
	t.Setenv("KEYPOOL_ENV", "staging")
	t.Setenv("KEYPOOL_CONFIG", path)
	t.Setenv("KEYPOOL_TEST_PRIMARY", "sk-primary-env-0001")
	t.Setenv("KEYPOOL_COOLDOWN", "30s")
	t.Setenv("KEYPOOL_PROBE_URL", "http://127.0.0.1:1/probe")
	t.Setenv("KEYPOOL_STRATEGY", "")

	env, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	rt, err := Bootstrap(context.Background(), env)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	defer rt.Close()

	if got := rt.Pool.Registry().Identifiers(); len(got) != 2 || got[0] != "PRIMARY" || got[1] != "BACKUP" {
		t.Fatalf("注册表顺序错误: %v", got)
	}
	key, _ := rt.Pool.Registry().Lookup("PRIMARY")
	if key.Secret != "sk-primary-env-0001" {
		t.Error("secret_env 未生效")
	}

	// 环境变量覆盖配置文件
	policy := rt.Manager.Policy()
	if policy.FailureThreshold != 4 || policy.Cooldown != 30*time.Second {
		t.Fatalf("策略合并错误: %+v", policy)
	}
	if rt.ProbeTarget() == nil {
		t.Error("配置了探测地址时应创建探测器")
	}

	if rt.Pool.Strategy() != selector.Failover {
		t.Fatalf("配置文件中的 strategy 未生效: %s", rt.Pool.Strategy())
	}
	for i := 0; i < 3; i++ {
		cred, err := rt.Pool.Acquire(context.Background())
		if err != nil || cred.Identifier != "PRIMARY" {
			t.Fatalf("failover 第%d次 Acquire = %v, %v", i, cred, err)
		}
	}
}

func TestBootstrap_NoKeys(t *testing.T) {
	t.Setenv("KEYPOOL_STORE", config.StoreMemory)
	t.Setenv("KEYPOOL_ENV", "empty")

	env, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	_, err = Bootstrap(context.Background(), env)
	if !apperrors.HasErrorCode(err, apperrors.ErrCodeNoKeys) {
		t.Fatalf("无Key时应返回 NO_KEYS，实际 %v", err)
	}
}

func TestRuntime_ProbeTargetNil(t *testing.T) {
	rt := &Runtime{}
	if rt.ProbeTarget() != nil {
		t.Fatal("未配置探测器时应返回 nil 接口")
	}
}

func TestApplyFileConfig(t *testing.T) {
	te := newTestEnv(t, []string{"A", "B"})

	file, err := config.Parse([]byte(`
policy:
  failure_threshold: 1
  cooldown: 5m
classification:
  status:
    400: key
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := te.rt.ApplyFileConfig(file); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if p := te.rt.Manager.Policy(); p.FailureThreshold != 1 || p.Cooldown != 5*time.Minute {
		t.Fatalf("策略未热更新: %+v", p)
	}

	// 新分类规则：400 变为Key级，阈值1立即剔除
	v, err := te.rt.Pool.ReportOutcome(context.Background(), "A", &provider.StatusError{Code: 400})
	if err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	if v.Classification.Kind != util.KindKeySpecific || !v.Ejected {
		t.Fatalf("热更新后的分类未生效: %+v", v)
	}
}

func TestReportRequest_Outcome(t *testing.T) {
	tests := []struct {
		name     string
		req      ReportRequest
		wantNil  bool
		wantKind util.Kind
	}{
		{"成功", ReportRequest{Success: true}, true, util.KindNone},
		{"503", ReportRequest{StatusCode: 503}, false, util.KindKeySpecific},
		{"400", ReportRequest{StatusCode: 400, Message: "bad"}, false, util.KindRequestSpecific},
		{"400 invalid_api_key", ReportRequest{StatusCode: 400, Message: "invalid_api_key"}, false, util.KindKeySpecific},
		{"仅消息", ReportRequest{Message: "connection reset"}, false, util.KindKeySpecific},
		{"强制请求级", ReportRequest{StatusCode: 503, Kind: "request"}, false, util.KindRequestSpecific},
	}
	classifier := util.DefaultClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			err := tt.req.Outcome()
			if (err == nil) != tt.wantNil {
				t.Fatalf("Outcome() = %v", err)
			}
			if err == nil {
				return
			}
			if got := classifier.Classify(err).Kind; got != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got, tt.wantKind)
			}
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.UnknownKey("x"), http.StatusNotFound},
		{apperrors.InvalidConfigError("f", "r"), http.StatusBadRequest},
		{apperrors.DuplicateKey("A"), http.StatusBadRequest},
		{apperrors.PoolExhausted(2, time.Time{}), http.StatusServiceUnavailable},
		{apperrors.PointerContention(3), http.StatusServiceUnavailable},
		{apperrors.AttemptsExhausted(2, errors.New("x")), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "1"},
		{300 * time.Millisecond, "1"},
		{90 * time.Second, "90"},
		{90*time.Second + time.Millisecond, "91"},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.d); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}
