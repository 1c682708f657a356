package model

import (
	"errors"
	"fmt"
	"strings"
)

// KeyRecord 凭据配置（进程启动时加载，不可变）
// Secret 只在 Provider Caller 边界内使用，禁止序列化和打印
type KeyRecord struct {
	Identifier string `json:"identifier" yaml:"id"`
	Secret     string `json:"-" yaml:"secret"`
}

// String 打印时只输出标识符和脱敏后的密钥
func (k KeyRecord) String() string {
	return fmt.Sprintf("%s(%s)", k.Identifier, maskSecret(k.Secret))
}

// GoString 防止 %#v 泄漏密钥
func (k KeyRecord) GoString() string {
	return k.String()
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// KeyRegistry 有序凭据列表，启动时构建一次，之后只读
// 顺序即轮询顺序
type KeyRegistry struct {
	keys  []KeyRecord
	index map[string]int
}

// DuplicateKeyError 注册表中出现重复标识符
type DuplicateKeyError struct {
	Identifier string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("key %q: duplicate identifier", e.Identifier)
}

// NewKeyRegistry 校验并构建凭据注册表
// 拒绝：空列表、空标识符、空密钥、重复标识符
func NewKeyRegistry(keys []KeyRecord) (*KeyRegistry, error) {
	if len(keys) == 0 {
		return nil, errors.New("key registry is empty")
	}

	r := &KeyRegistry{
		keys:  make([]KeyRecord, 0, len(keys)),
		index: make(map[string]int, len(keys)),
	}
	for i, k := range keys {
		id := strings.TrimSpace(k.Identifier)
		if id == "" {
			return nil, fmt.Errorf("key #%d: identifier cannot be empty", i+1)
		}
		if strings.ContainsAny(id, "\x00\r\n") {
			return nil, fmt.Errorf("key %q: identifier contains illegal characters", id)
		}
		if k.Secret == "" {
			return nil, fmt.Errorf("key %q: secret cannot be empty", id)
		}
		if _, dup := r.index[id]; dup {
			return nil, &DuplicateKeyError{Identifier: id}
		}
		r.index[id] = len(r.keys)
		r.keys = append(r.keys, KeyRecord{Identifier: id, Secret: k.Secret})
	}
	return r, nil
}

// Len 凭据数量
func (r *KeyRegistry) Len() int {
	return len(r.keys)
}

// At 按位置取凭据（调用方保证 0 <= i < Len）
func (r *KeyRegistry) At(i int) KeyRecord {
	return r.keys[i]
}

// Identifiers 按注册顺序返回标识符副本
func (r *KeyRegistry) Identifiers() []string {
	ids := make([]string, len(r.keys))
	for i, k := range r.keys {
		ids[i] = k.Identifier
	}
	return ids
}

// Lookup 按标识符查找
func (r *KeyRegistry) Lookup(id string) (KeyRecord, bool) {
	i, ok := r.index[id]
	if !ok {
		return KeyRecord{}, false
	}
	return r.keys[i], true
}

// Position 返回标识符在注册表中的位置，不存在时返回 -1
func (r *KeyRegistry) Position(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}
