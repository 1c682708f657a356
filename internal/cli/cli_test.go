package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"keypool/internal/app"
	"keypool/internal/config"
	apperrors "keypool/internal/errors"
	"keypool/internal/model"

	"github.com/bytedance/sonic"
)

// setupEnv 使用临时SQLite文件，多次命令调用共享健康状态
func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KEYPOOL_STORE", config.StoreSQLite)
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "keypool.db"))
	t.Setenv("KEYPOOL_KEY_IDS", "KEYPOOL_CLI_A,KEYPOOL_CLI_B")
	t.Setenv("KEYPOOL_CLI_A", "sk-cli-secret-aaaa-0001")
	t.Setenv("KEYPOOL_CLI_B", "sk-cli-secret-bbbb-0002")
	t.Setenv("KEYPOOL_CONFIG", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatus(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"KEYPOOL_CLI_A", "KEYPOOL_CLI_B", "healthy", ">0"} {
		if !strings.Contains(out, want) {
			t.Errorf("输出缺少 %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "sk-cli-secret") {
		t.Fatalf("status 输出泄漏密钥:\n%s", out)
	}
	if strings.Contains(out, "\033[") {
		t.Error("非终端输出不应包含颜色码")
	}
}

func TestEjectRestore(t *testing.T) {
	setupEnv(t)

	if out, err := run(t, "eject", "KEYPOOL_CLI_A", "--for", "10m"); err != nil {
		t.Fatalf("eject: %v (%s)", err, out)
	}

	out, err := run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var rows []app.KeyResponse
	if err := sonic.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("解析JSON失败: %v\n%s", err, out)
	}
	if len(rows) != 2 || rows[0].State != "ejected" || rows[0].CooldownMs <= 0 {
		t.Fatalf("剔除未持久化: %+v", rows)
	}
	if rows[1].State != "healthy" {
		t.Errorf("KEYPOOL_CLI_B 不应受影响: %+v", rows[1])
	}

	if out, err := run(t, "restore", "KEYPOOL_CLI_A"); err != nil {
		t.Fatalf("restore: %v (%s)", err, out)
	}
	out, _ = run(t, "status", "--json")
	rows = nil
	if err := sonic.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("解析JSON失败: %v", err)
	}
	if rows[0].State != "healthy" || rows[0].Health.Status != model.StatusHealthy {
		t.Fatalf("恢复未生效: %+v", rows[0])
	}
}

func TestUnknownKey(t *testing.T) {
	setupEnv(t)

	for _, args := range [][]string{
		{"eject", "NOPE"},
		{"restore", "NOPE"},
		{"probe", "NOPE"},
	} {
		_, err := run(t, args...)
		if !apperrors.HasErrorCode(err, apperrors.ErrCodeUnknownKey) {
			t.Errorf("%v: 期望 UNKNOWN_KEY，实际 %v", args, err)
		}
	}
}

func TestProbe(t *testing.T) {
	setupEnv(t)

	t.Run("未配置探测地址", func(t *testing.T) {
		t.Setenv("KEYPOOL_PROBE_URL", "")
		_, err := run(t, "probe", "KEYPOOL_CLI_A")
		if !apperrors.HasErrorCode(err, apperrors.ErrCodeMissingConfig) {
			t.Fatalf("期望 MISSING_CONFIG，实际 %v", err)
		}
	})

	t.Run("Key被拒绝", func(t *testing.T) {
		up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(config.DefaultProbeHeader) == "sk-cli-secret-aaaa-0001" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer up.Close()
		t.Setenv("KEYPOOL_PROBE_URL", up.URL)

		out, err := run(t, "probe", "KEYPOOL_CLI_A")
		if err != nil {
			t.Fatalf("probe: %v", err)
		}
		if !strings.Contains(out, "http_401") {
			t.Fatalf("输出缺少错误类型:\n%s", out)
		}

		out, err = run(t, "probe", "KEYPOOL_CLI_B")
		if err != nil {
			t.Fatalf("probe: %v", err)
		}
		if !strings.Contains(out, "探测成功") {
			t.Fatalf("输出异常:\n%s", out)
		}
	})
}

func TestResetDaily(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "reset-daily", "--restore")
	if err != nil {
		t.Fatalf("reset-daily: %v", err)
	}
	if !strings.Contains(out, "恢复全部: true") {
		t.Fatalf("输出异常: %s", out)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	setupEnv(t)
	t.Setenv("KEYPOOL_KEY_IDS", "")

	// 指定不存在的池：没有Key
	_, err := run(t, "status", "--env", "nowhere")
	if !apperrors.HasErrorCode(err, apperrors.ErrCodeNoKeys) {
		t.Fatalf("期望 NO_KEYS，实际 %v", err)
	}

	_, err = run(t, "status", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("配置文件不存在时应报错")
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]any
	if err := sonic.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if info["version"] == nil || info["go_version"] == nil {
		t.Fatalf("字段缺失: %v", info)
	}
}

func TestServe_BootstrapError(t *testing.T) {
	setupEnv(t)
	t.Setenv("KEYPOOL_KEY_IDS", "KEYPOOL_CLI_MISSING")

	_, err := run(t, "serve", "--port", "0")
	if !apperrors.HasErrorCode(err, apperrors.ErrCodeMissingConfig) {
		t.Fatalf("缺少密钥时 serve 应失败，实际 %v", err)
	}
}
