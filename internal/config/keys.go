package config

import (
	"errors"
	"os"
	"strings"

	apperrors "keypool/internal/errors"
	"keypool/internal/model"
)

// LoadKeys 按优先级加载Key列表
//  1. KEYPOOL_KEY_IDS：环境变量名列表，变量名即标识符
//  2. 配置文件 pools.<KEYPOOL_ENV>
//
// 顺序即轮询顺序
func LoadKeys(env *EnvConfig, file *FileConfig) ([]model.KeyRecord, error) {
	if len(env.KeyIDs) > 0 {
		keys := make([]model.KeyRecord, 0, len(env.KeyIDs))
		for _, name := range env.KeyIDs {
			secret := strings.TrimSpace(os.Getenv(name))
			if secret == "" {
				return nil, apperrors.MissingConfigError(name)
			}
			keys = append(keys, model.KeyRecord{Identifier: name, Secret: secret})
		}
		return keys, nil
	}

	if file == nil {
		return nil, apperrors.NoKeysConfigured(env.Env)
	}
	entries := file.Pools[env.Env]
	if len(entries) == 0 {
		return nil, apperrors.NoKeysConfigured(env.Env)
	}

	keys := make([]model.KeyRecord, 0, len(entries))
	for _, e := range entries {
		secret := e.Secret
		if e.SecretEnv != "" {
			secret = strings.TrimSpace(os.Getenv(e.SecretEnv))
			if secret == "" {
				return nil, apperrors.MissingConfigError(e.SecretEnv).WithContext("identifier", e.ID)
			}
		}
		keys = append(keys, model.KeyRecord{Identifier: e.ID, Secret: secret})
	}
	return keys, nil
}

// BuildRegistry 加载Key并构建不可变注册表
func BuildRegistry(env *EnvConfig, file *FileConfig) (*model.KeyRegistry, error) {
	keys, err := LoadKeys(env, file)
	if err != nil {
		return nil, err
	}
	reg, err := model.NewKeyRegistry(keys)
	if err != nil {
		var dup *model.DuplicateKeyError
		if errors.As(err, &dup) {
			return nil, apperrors.DuplicateKey(dup.Identifier)
		}
		return nil, apperrors.InvalidConfigError("keys", err.Error())
	}
	return reg, nil
}
