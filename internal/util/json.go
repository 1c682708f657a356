package util

import "github.com/bytedance/sonic"

// EncodeJSON 使用sonic序列化（存储层 recent_errors 列和Redis文档）
func EncodeJSON(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// DecodeJSON 使用sonic反序列化，空输入视为未设置
func DecodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, v)
}
