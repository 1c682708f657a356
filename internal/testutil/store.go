package testutil

import (
	"testing"

	"keypool/internal/model"
	"keypool/internal/storage"
)

// SetupTestStore 创建一个用于测试的 SQLite 存储实例
// 返回 store 实例和 cleanup 函数
// 使用方式：store, cleanup := testutil.SetupTestStore(t); defer cleanup()
func SetupTestStore(t testing.TB) (storage.Store, func()) {
	t.Helper()

	tmpDB := t.TempDir() + "/test.db"
	store, err := storage.CreateSQLiteStore(tmpDB)
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			t.Logf("关闭测试数据库失败: %v", err)
		}
	}

	return store, cleanup
}

// NewRegistry 按给定标识符顺序创建注册表，密钥为 "sk-test-<id>"
func NewRegistry(t testing.TB, ids ...string) *model.KeyRegistry {
	t.Helper()

	keys := make([]model.KeyRecord, len(ids))
	for i, id := range ids {
		keys[i] = model.KeyRecord{Identifier: id, Secret: TestSecret(id)}
	}
	reg, err := model.NewKeyRegistry(keys)
	if err != nil {
		t.Fatalf("创建测试注册表失败: %v", err)
	}
	return reg
}

// TestSecret 测试密钥（足够长，脱敏后不会暴露原文）
func TestSecret(id string) string {
	return "sk-test-" + id + "-0123456789abcdef"
}
