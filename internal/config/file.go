package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"keypool/internal/model"
	"keypool/internal/selector"
	"keypool/internal/util"
)

// KeyEntry 配置文件中的单个Key
// secret 与 secret_env 二选一，推荐 secret_env 避免密钥落盘
type KeyEntry struct {
	ID        string `yaml:"id"`
	Secret    string `yaml:"secret"`
	SecretEnv string `yaml:"secret_env"`
}

// FileConfig yaml配置文件
//
//	pools:
//	  production:
//	    - id: PRIMARY
//	      secret_env: GEMINI_API_KEY_PRIMARY
//	    - id: BACKUP
//	      secret_env: GEMINI_API_KEY_BACKUP
//	strategy: round_robin   # 或 failover
//	policy:
//	  failure_threshold: 3
//	  cooldown: 1m
//	  growth: exponential
//	classification:
//	  status:
//	    400: request
//	    401: key
type FileConfig struct {
	Pools          map[string][]KeyEntry    `yaml:"pools"`
	Strategy       string                   `yaml:"strategy"`
	Policy         model.EjectionPolicy     `yaml:"policy"`
	Classification util.ClassificationRules `yaml:"classification"`
}

// DefaultFileConfig 未提供配置文件时的默认值
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Pools:  map[string][]KeyEntry{},
		Policy: model.DefaultEjectionPolicy(),
	}
}

// Load 读取并校验配置文件：默认值 + yaml覆盖 + 校验
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 路径来自运维配置
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析yaml内容
func Parse(data []byte) (*FileConfig, error) {
	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验策略和分类规则
func (c *FileConfig) Validate() error {
	if _, err := selector.ParseStrategy(c.Strategy); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := c.Classifier(); err != nil {
		return fmt.Errorf("classification: %w", err)
	}
	for env, entries := range c.Pools {
		for i, e := range entries {
			if e.ID == "" {
				return fmt.Errorf("pools.%s[%d]: id is required", env, i)
			}
			if e.Secret != "" && e.SecretEnv != "" {
				return fmt.Errorf("pools.%s[%d] (%s): secret and secret_env are mutually exclusive", env, i, e.ID)
			}
		}
	}
	return nil
}

// Classifier 用默认规则合并配置文件中的覆盖项构建分类器
func (c *FileConfig) Classifier() (*util.Classifier, error) {
	return util.NewClassifier(util.DefaultClassificationRules().Merge(c.Classification))
}
