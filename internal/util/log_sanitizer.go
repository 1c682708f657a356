package util

import (
	"fmt"
	"log"
	"strings"
	"unicode"
)

const (
	// LogMaxMessageLength 单条日志消息最大长度
	LogMaxMessageLength = 2000

	// ErrorMessageMaxLength 写入 recentErrors 的单条错误消息最大长度
	ErrorMessageMaxLength = 500
)

// SanitizeLogMessage 消毒日志消息，防止日志注入
//  1. 换行/回车/制表符转义为可见形式
//  2. 其他控制字符转义为 \xNN
//  3. 超长截断
func SanitizeLogMessage(msg string) string {
	return sanitize(msg, LogMaxMessageLength)
}

func sanitize(msg string, limit int) string {
	if msg == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case unicode.IsPrint(r) || r == ' ':
			b.WriteRune(r)
		case r < 32 || r == 127:
			fmt.Fprintf(&b, `\x%02x`, r)
		}
	}

	out := b.String()
	if len(out) > limit {
		out = out[:limit] + "...[truncated]"
	}
	return out
}

// SanitizeError 消毒error对象的Error()输出
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeLogMessage(err.Error())
}

// SanitizeErrorMessage 生成可持久化的错误消息：脱敏密钥 + 去控制字符 + 截断
func SanitizeErrorMessage(msg string, secrets ...string) string {
	return sanitize(RedactSecret(msg, secrets...), ErrorMessageMaxLength)
}

func sanitizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case string:
			out[i] = SanitizeLogMessage(v)
		case error:
			out[i] = SanitizeError(v)
		default:
			out[i] = v
		}
	}
	return out
}

// SafePrintf 安全的日志打印函数（自动消毒所有参数）
// 用于替代标准库的 log.Printf
func SafePrintf(format string, args ...any) {
	log.Printf(format, sanitizeArgs(args)...)
}

// SafePrint 安全的日志打印函数（自动消毒所有参数）
func SafePrint(args ...any) {
	log.Print(sanitizeArgs(args)...)
}
