package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"keypool/internal/model"
	"keypool/internal/util"
)

const sampleConfig = `
pools:
  production:
    - id: PRIMARY
      secret_env: KEYPOOL_TEST_PRIMARY
    - id: BACKUP
      secret: sk-backup-inline-0002
  batch:
    - id: BATCH
      secret_env: KEYPOOL_TEST_BATCH
strategy: failover
policy:
  failure_threshold: 5
  cooldown: 2m
  growth: exponential
classification:
  status:
    401: request
    404: key
  default: request
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Pools["production"]) != 2 || cfg.Pools["production"][0].SecretEnv != "KEYPOOL_TEST_PRIMARY" {
		t.Fatalf("pools解析错误: %+v", cfg.Pools)
	}

	if cfg.Strategy != "failover" {
		t.Errorf("strategy解析错误: %q", cfg.Strategy)
	}
	if cfg.Policy.FailureThreshold != 5 || cfg.Policy.Cooldown != 2*time.Minute || cfg.Policy.Growth != model.GrowthExponential {
		t.Errorf("policy解析错误: %+v", cfg.Policy)
	}
	if cfg.Policy.MaxCooldown != model.DefaultMaxCooldown || cfg.Policy.RecentErrorsCap != model.DefaultRecentErrorsCap {
		t.Errorf("未设置的策略字段应保留默认值: %+v", cfg.Policy)
	}

	c, err := cfg.Classifier()
	if err != nil {
		t.Fatalf("Classifier: %v", err)
	}
	if got := c.ClassifyStatus(401, nil).Kind; got != util.KindRequestSpecific {
		t.Errorf("401覆盖失败: %s", got)
	}
	if got := c.ClassifyStatus(404, nil).Kind; got != util.KindKeySpecific {
		t.Errorf("404覆盖失败: %s", got)
	}
	if got := c.ClassifyStatus(429, nil).Kind; got != util.KindKeySpecific {
		t.Errorf("未覆盖的429应保持默认: %s", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"语法错误", "pools: [", "parse config"},
		{"阈值非法", "policy:\n  failure_threshold: 0\n", "failure_threshold"},
		{"未知类别", "classification:\n  status:\n    500: channel\n", "unknown error kind"},
		{"未知策略", "strategy: random\n", "strategy"},
		{"缺少id", "pools:\n  production:\n    - secret: x\n", "id is required"},
		{"secret互斥", "pools:\n  production:\n    - id: A\n      secret: x\n      secret_env: Y\n", "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("期望错误包含%q，实际%v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("文件不存在应报错")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keypool.yaml")
	if err := os.WriteFile(path, []byte("policy:\n  cooldown: 1m\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *FileConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *FileConfig) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	// 等待watcher就绪后写入，非法内容应被忽略
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case c := <-reloaded:
			if c.Policy.Cooldown != 3*time.Minute {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch返回错误: %v", err)
			}
			return
		case <-ticker.C:
			_ = os.WriteFile(path, []byte("policy:\n  cooldown: ["), 0o600)
			_ = os.WriteFile(path, []byte("policy:\n  cooldown: 3m\n"), 0o600)
		case <-deadline:
			t.Fatal("等待配置重新加载超时")
		}
	}
}
