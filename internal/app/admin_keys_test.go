package app

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "keypool/internal/errors"
	"keypool/internal/model"
	"keypool/internal/provider"
	"keypool/internal/testutil"
	"keypool/internal/util"
)

func TestAdminAuth(t *testing.T) {
	te := newTestEnv(t, []string{"A"})

	tests := []struct {
		name string
		auth string
		want int
	}{
		{"无认证头", "", http.StatusUnauthorized},
		{"错误密码", "wrong", http.StatusUnauthorized},
		{"正确密码", testPassword, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := te.do(t, http.MethodGet, "/admin/keys", nil, tt.auth)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body=%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusUnauthorized {
				resp := testutil.MustParseAPIResponse[any](t, w.Body.Bytes())
				if resp.Code != string(apperrors.ErrCodeUnauthorized) {
					t.Errorf("code = %q, want UNAUTHORIZED", resp.Code)
				}
			}
		})
	}
}

func TestAdminAuth_Lockout(t *testing.T) {
	te := newTestEnv(t, []string{"A"})

	for i := 0; i < 5; i++ {
		if w := te.do(t, http.MethodGet, "/admin/keys", nil, "wrong"); w.Code != http.StatusUnauthorized {
			t.Fatalf("第%d次错误密码 status = %d", i+1, w.Code)
		}
	}

	// 锁定后即使密码正确也拒绝
	w := te.admin(t, http.MethodGet, "/admin/keys", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("锁定期 status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("锁定响应应携带 Retry-After")
	}
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	te := newTestEnv(t, []string{"A"}, withoutPassword())

	if w := te.do(t, http.MethodGet, "/admin/keys", nil, "anything"); w.Code != http.StatusNotFound {
		t.Fatalf("未设置管理密码时管理接口不应注册，status = %d", w.Code)
	}
	if w := te.do(t, http.MethodGet, "/health", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("/health 应始终可用，status = %d", w.Code)
	}
}

func TestListKeys(t *testing.T) {
	te := newTestEnv(t, []string{"PRIMARY", "BACKUP"})
	ctx := context.Background()
	if _, err := te.rt.Manager.Eject(ctx, "PRIMARY", time.Minute); err != nil {
		t.Fatalf("Eject: %v", err)
	}

	w := te.admin(t, http.MethodGet, "/admin/keys", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, id := range []string{"PRIMARY", "BACKUP"} {
		if strings.Contains(body, testutil.TestSecret(id)) {
			t.Fatalf("响应泄漏密钥: %s", body)
		}
	}

	resp := testutil.MustParseAPIResponse[[]KeyResponse](t, w.Body.Bytes())
	if len(resp.Data) != 2 {
		t.Fatalf("应返回2个Key，实际 %d", len(resp.Data))
	}
	if resp.Data[0].Identifier != "PRIMARY" || resp.Data[0].State != "ejected" {
		t.Errorf("PRIMARY 视图错误: %+v", resp.Data[0])
	}
	if resp.Data[0].CooldownMs != int64(time.Minute/time.Millisecond) {
		t.Errorf("剩余冷却 = %d, want 60000", resp.Data[0].CooldownMs)
	}
	if resp.Data[1].State != "healthy" || resp.Data[1].CooldownMs != 0 {
		t.Errorf("BACKUP 视图错误: %+v", resp.Data[1])
	}
}

func TestGetKey(t *testing.T) {
	te := newTestEnv(t, []string{"A", "B"})

	w := te.admin(t, http.MethodGet, "/admin/keys/B", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := testutil.MustParseAPIResponse[KeyResponse](t, w.Body.Bytes())
	if resp.Data.Identifier != "B" || resp.Data.Position != 1 {
		t.Fatalf("视图错误: %+v", resp.Data)
	}

	w = te.admin(t, http.MethodGet, "/admin/keys/Z", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("未知Key status = %d, want 404", w.Code)
	}
	if resp := testutil.MustParseAPIResponse[any](t, w.Body.Bytes()); resp.Code != string(apperrors.ErrCodeUnknownKey) {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestEjectAndRestore(t *testing.T) {
	te := newTestEnv(t, []string{"PRIMARY", "BACKUP"})
	ctx := context.Background()

	t.Run("参数校验", func(t *testing.T) {
		if w := te.admin(t, http.MethodPost, "/admin/keys/PRIMARY/eject", map[string]any{"duration_ms": 10}); w.Code != http.StatusBadRequest {
			t.Fatalf("过短时长 status = %d, want 400", w.Code)
		}
		if w := te.admin(t, http.MethodPost, "/admin/keys/Z/eject", map[string]any{"duration_ms": 60000}); w.Code != http.StatusNotFound {
			t.Fatalf("未知Key status = %d, want 404", w.Code)
		}
	})

	t.Run("剔除后只选BACKUP", func(t *testing.T) {
		w := te.admin(t, http.MethodPost, "/admin/keys/PRIMARY/eject", map[string]any{"duration_ms": 60000})
		if w.Code != http.StatusOK {
			t.Fatalf("eject status = %d (%s)", w.Code, w.Body.String())
		}
		for i := 0; i < 2; i++ {
			cred, err := te.rt.Pool.Acquire(ctx)
			if err != nil || cred.Identifier != "BACKUP" {
				t.Fatalf("Acquire = %v, %v; want BACKUP", cred, err)
			}
		}
	})

	t.Run("恢复后交替", func(t *testing.T) {
		w := te.admin(t, http.MethodPost, "/admin/keys/PRIMARY/restore", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("restore status = %d", w.Code)
		}
		rec, _ := te.store.GetHealth(ctx, "PRIMARY")
		if rec.Status != model.StatusHealthy {
			t.Fatalf("恢复后应为HEALTHY: %+v", rec)
		}
		a, _ := te.rt.Pool.Acquire(ctx)
		b, _ := te.rt.Pool.Acquire(ctx)
		if a.Identifier == b.Identifier {
			t.Fatalf("恢复后应交替，实际 %s, %s", a.Identifier, b.Identifier)
		}
	})
}

func TestProbeKey(t *testing.T) {
	up := upstream(t, func(secret string) int {
		if secret == testutil.TestSecret("GOOD") {
			return http.StatusOK
		}
		return http.StatusUnauthorized
	})
	te := newTestEnv(t, []string{"GOOD", "BAD"}, withProbeURL(up.URL))
	ctx := context.Background()
	_, _ = te.rt.Manager.Eject(ctx, "GOOD", time.Hour)

	w := te.admin(t, http.MethodPost, "/admin/keys/GOOD/probe", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	resp := testutil.MustParseAPIResponse[VerdictResponse](t, w.Body.Bytes())
	if resp.Data.Action != "none" || resp.Data.State != "healthy" {
		t.Fatalf("探测成功应恢复健康: %+v", resp.Data)
	}

	w = te.admin(t, http.MethodPost, "/admin/keys/BAD/probe", nil)
	resp = testutil.MustParseAPIResponse[VerdictResponse](t, w.Body.Bytes())
	if resp.Data.Kind != "key" || resp.Data.ErrorType != "http_401" || resp.Data.Action != "retry_key" {
		t.Fatalf("401 应为Key级失败: %+v", resp.Data)
	}
}

func TestProbeKey_NoProbeURL(t *testing.T) {
	te := newTestEnv(t, []string{"A"})

	w := te.admin(t, http.MethodPost, "/admin/keys/A/probe", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if resp := testutil.MustParseAPIResponse[any](t, w.Body.Bytes()); resp.Code != string(apperrors.ErrCodeMissingConfig) {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestResetDaily(t *testing.T) {
	te := newTestEnv(t, []string{"A", "B"})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = te.rt.Pool.ReportOutcome(ctx, "A", &provider.StatusError{Code: 503})
	}

	w := te.admin(t, http.MethodPost, "/admin/reset-daily", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	rec, _ := te.store.GetHealth(ctx, "A")
	if rec.DailyFailureCount != 0 || rec.FailureCount != 3 {
		t.Fatalf("每日计数应清零、累计计数保留: %+v", rec)
	}
	if rec.Status != model.StatusUnhealthy {
		t.Fatal("未要求恢复时不应改变状态")
	}

	w = te.admin(t, http.MethodPost, "/admin/reset-daily", map[string]any{"restore": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	rec, _ = te.store.GetHealth(ctx, "A")
	if rec.Status != model.StatusHealthy {
		t.Fatalf("restore=true 应恢复所有Key: %+v", rec)
	}
}

func TestReport(t *testing.T) {
	te := newTestEnv(t, []string{"A"})
	ctx := context.Background()

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"成功", map[string]any{"success": true}, http.StatusAccepted},
		{"状态码失败", map[string]any{"status_code": 429, "message": "quota"}, http.StatusAccepted},
		{"请求级失败", map[string]any{"message": "bad prompt", "kind": "request"}, http.StatusAccepted},
		{"缺少失败信息", map[string]any{"success": false}, http.StatusBadRequest},
		{"非法状态码", map[string]any{"status_code": 42}, http.StatusBadRequest},
		{"非法kind", map[string]any{"message": "x", "kind": "both"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := te.admin(t, http.MethodPost, "/admin/keys/A/report", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	// 关闭时排空队列
	if err := te.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	rec, _ := te.store.GetHealth(ctx, "A")
	if rec.FailureCount != 1 {
		t.Fatalf("只有429计入失败，实际 FailureCount=%d", rec.FailureCount)
	}
	if len(rec.RecentErrors) != 1 || rec.RecentErrors[0].ErrorType != "http_429" {
		t.Fatalf("错误历史异常: %+v", rec.RecentErrors)
	}
}

func TestAPITest(t *testing.T) {
	up := upstream(t, func(secret string) int {
		switch secret {
		case testutil.TestSecret("C"):
			return http.StatusOK
		default:
			return http.StatusTooManyRequests
		}
	})
	te := newTestEnv(t, []string{"A", "B", "C"}, withProbeURL(up.URL))

	w := te.admin(t, http.MethodPost, "/api/test", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	resp := testutil.MustParseAPIResponse[TestResponse](t, w.Body.Bytes())
	if resp.Data.UsedKey != "C" {
		t.Fatalf("used_key = %s, want C", resp.Data.UsedKey)
	}
}

func TestAPITest_Failures(t *testing.T) {
	t.Run("全部Key失败", func(t *testing.T) {
		up := upstream(t, func(string) int { return http.StatusServiceUnavailable })
		te := newTestEnv(t, []string{"A", "B"}, withProbeURL(up.URL))

		w := te.admin(t, http.MethodPost, "/api/test", nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", w.Code)
		}
		resp := testutil.MustParseAPIResponse[TestResponse](t, w.Body.Bytes())
		if resp.Code != string(apperrors.ErrCodeAttemptsExhausted) || resp.Data.UsedKey != "B" {
			t.Fatalf("响应异常: %+v", resp)
		}
	})

	t.Run("请求级失败不换Key", func(t *testing.T) {
		var calls atomic.Int32
		up := upstream(t, func(string) int {
			calls.Add(1)
			return http.StatusBadRequest
		})
		te := newTestEnv(t, []string{"A", "B"}, withProbeURL(up.URL))

		w := te.admin(t, http.MethodPost, "/api/test", nil)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", w.Code)
		}
		if n := calls.Load(); n != 1 {
			t.Fatalf("请求级失败不应重试，上游调用 %d 次", n)
		}
	})

	t.Run("池耗尽", func(t *testing.T) {
		up := upstream(t, func(string) int { return http.StatusOK })
		te := newTestEnv(t, []string{"A"}, withProbeURL(up.URL))
		_, _ = te.rt.Manager.Eject(context.Background(), "A", 90*time.Second)

		w := te.admin(t, http.MethodPost, "/api/test", nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != "90" {
			t.Errorf("Retry-After = %q, want 90", got)
		}
	})

	t.Run("未配置探测地址", func(t *testing.T) {
		te := newTestEnv(t, []string{"A"})
		if w := te.admin(t, http.MethodPost, "/api/test", nil); w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
	})
}

func TestGetPolicy(t *testing.T) {
	te := newTestEnv(t, []string{"PRIMARY", "BACKUP"})

	w := te.admin(t, http.MethodGet, "/admin/policy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	resp := testutil.MustParseAPIResponse[PolicyResponse](t, w.Body.Bytes())
	got := resp.Data

	if got.Strategy != "round_robin" || got.PointerMode != "local" {
		t.Errorf("策略/指针模式错误: %s/%s", got.Strategy, got.PointerMode)
	}
	if got.Policy.FailureThreshold != model.DefaultFailureThreshold {
		t.Errorf("FailureThreshold = %d", got.Policy.FailureThreshold)
	}
	want := []int{401, 402, 403, 429}
	if len(got.KeyStatusCodes) != len(want) {
		t.Fatalf("KeyStatusCodes = %v, want %v", got.KeyStatusCodes, want)
	}
	for i, code := range want {
		if got.KeyStatusCodes[i] != code {
			t.Fatalf("KeyStatusCodes = %v, want %v", got.KeyStatusCodes, want)
		}
	}
	if got.Classification.Status[404] != util.KindRequestSpecific {
		t.Errorf("分类规则中 404 应为请求级: %v", got.Classification.Status[404])
	}

	// 未授权访问
	if w := te.do(t, http.MethodGet, "/admin/policy", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("无token status = %d", w.Code)
	}
}
