package util

import (
	"strings"
	"testing"
)

// TestParseAPIKeys 测试逗号分隔列表解析
func TestParseAPIKeys(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "单个Key",
			input:    "GEMINI_API_KEY",
			expected: []string{"GEMINI_API_KEY"},
		},
		{
			name:     "多个Key (逗号分隔)",
			input:    "PRIMARY,BACKUP,SPARE",
			expected: []string{"PRIMARY", "BACKUP", "SPARE"},
		},
		{
			name:     "带空格的Key",
			input:    " PRIMARY , BACKUP ",
			expected: []string{"PRIMARY", "BACKUP"},
		},
		{
			name:     "空字符串",
			input:    "",
			expected: []string{},
		},
		{
			name:     "仅空格",
			input:    "   ",
			expected: []string{},
		},
		{
			name:     "包含空项",
			input:    "PRIMARY,,BACKUP",
			expected: []string{"PRIMARY", "BACKUP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseAPIKeys(tt.input)
			if len(result) != len(tt.expected) {
				t.Errorf("期望 %d 个key, 实际 %d 个", len(tt.expected), len(result))
				return
			}
			for i, key := range result {
				if key != tt.expected[i] {
					t.Errorf("索引 %d: 期望 %q, 实际 %q", i, tt.expected[i], key)
				}
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "短Key", input: "short", expected: "****"},
		{name: "长度8", input: "12345678", expected: "****"},
		{name: "长度9", input: "123456789", expected: "1234...6789"},
		{name: "普通Key", input: "sk-test-key", expected: "sk-t...-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskAPIKey(tt.input); got != tt.expected {
				t.Fatalf("MaskAPIKey(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRedactSecret(t *testing.T) {
	t.Parallel()

	const secret = "AIzaSyD-secret-value-1234"
	tests := []struct {
		name  string
		input string
	}{
		{"消息中回显密钥", "request failed with key " + secret},
		{"URL查询参数", "Post \"https://generativelanguage.googleapis.com/v1/models:generate?key=" + secret + "\": EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactSecret(tt.input, secret)
			if strings.Contains(got, "secret-value") {
				t.Fatalf("密钥未脱敏: %s", got)
			}
		})
	}

	if got := RedactSecret("?key=unknown-secret&alt=sse"); got != "?key=****&alt=sse" {
		t.Errorf("未知密钥的查询参数也应脱敏，实际%s", got)
	}
	if got := RedactSecret("plain message", secret); got != "plain message" {
		t.Errorf("无密钥消息不应修改，实际%s", got)
	}
}
