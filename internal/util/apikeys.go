// Package util 提供通用工具函数
package util

import (
	"regexp"
	"strings"
)

// ParseAPIKeys 解析逗号分隔的列表（Key标识符列表等）
func ParseAPIKeys(apiKey string) []string {
	if apiKey == "" {
		return []string{}
	}
	parts := strings.Split(apiKey, ",")
	keys := make([]string, 0, len(parts))
	for _, k := range parts {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// MaskAPIKey 将API Key脱敏为 "abcd...klmn" 格式（前4位 + ... + 后4位）
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// queryKeyRegex 匹配URL中的 key=xxx 查询参数（Gemini风格的鉴权方式）
var queryKeyRegex = regexp.MustCompile(`([?&](?:key|api_key|apikey)=)[^&\s"']+`)

// RedactSecret 从错误消息中抹掉密钥原文
// 上游错误经常回显请求URL或请求头，写入 recentErrors / 日志前必须脱敏
func RedactSecret(msg string, secrets ...string) string {
	if msg == "" {
		return msg
	}
	for _, s := range secrets {
		if len(s) < 4 {
			continue
		}
		msg = strings.ReplaceAll(msg, s, MaskAPIKey(s))
	}
	return queryKeyRegex.ReplaceAllString(msg, "${1}****")
}
