package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode 错误代码类型（便于机器识别和监控）
type ErrorCode string

const (
	// 凭据池相关错误
	ErrCodeNoKeys            ErrorCode = "NO_KEYS"            // 未配置任何Key
	ErrCodeDuplicateKey      ErrorCode = "DUPLICATE_KEY"      // Key标识符重复
	ErrCodeUnknownKey        ErrorCode = "UNKNOWN_KEY"        // 标识符不在注册表中
	ErrCodePoolExhausted     ErrorCode = "POOL_EXHAUSTED"     // 所有Key都在冷却中
	ErrCodePointerContention ErrorCode = "POINTER_CONTENTION" // 共享轮询指针CAS重试耗尽
	ErrCodeAttemptsExhausted ErrorCode = "ATTEMPTS_EXHAUSTED" // 单次调用的Key重试次数耗尽

	// 数据库操作错误
	ErrCodeDBQuery  ErrorCode = "DB_QUERY"  // 数据库查询失败
	ErrCodeDBUpdate ErrorCode = "DB_UPDATE" // 数据库更新失败

	// 认证相关错误
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED" // 未授权

	// 配置相关错误
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG" // 配置无效
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG" // 配置缺失
)

// AppError 应用级错误结构（支持错误链和上下文信息）
type AppError struct {
	Code    ErrorCode      // 错误代码（机器可识别）
	Message string         // 错误消息（人类可读）
	Err     error          // 底层错误（支持错误链）
	Context map[string]any // 错误上下文（便于调试和监控）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链（Go 1.13+）
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误代码比较，支持 errors.Is(err, pool.ErrPoolExhausted)
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext 添加错误上下文
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ============== 凭据池错误工厂函数 ==============

// NoKeysConfigured 未配置任何Key
func NoKeysConfigured(env string) *AppError {
	return &AppError{
		Code:    ErrCodeNoKeys,
		Message: fmt.Sprintf("no API keys configured for pool %q", env),
		Context: map[string]any{"env": env},
	}
}

// DuplicateKey Key标识符重复
func DuplicateKey(id string) *AppError {
	return &AppError{
		Code:    ErrCodeDuplicateKey,
		Message: fmt.Sprintf("duplicate key identifier %q", id),
		Context: map[string]any{"identifier": id},
	}
}

// UnknownKey 标识符不在注册表中
func UnknownKey(id string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownKey,
		Message: fmt.Sprintf("unknown key identifier %q", id),
		Context: map[string]any{"identifier": id},
	}
}

// PoolExhausted 所有Key都在冷却中
// nextRetry 为最早恢复时间，零值表示未知
func PoolExhausted(keyCount int, nextRetry time.Time) *AppError {
	e := &AppError{
		Code:    ErrCodePoolExhausted,
		Message: fmt.Sprintf("all %d keys are in cooldown", keyCount),
		Context: map[string]any{"key_count": keyCount},
	}
	if !nextRetry.IsZero() {
		e.Context["next_retry_at"] = nextRetry
	}
	return e
}

// PointerContention 共享轮询指针CAS重试耗尽
func PointerContention(attempts int) *AppError {
	return &AppError{
		Code:    ErrCodePointerContention,
		Message: fmt.Sprintf("rotation pointer contention after %d attempts", attempts),
		Context: map[string]any{"attempts": attempts},
	}
}

// AttemptsExhausted 单次调用已尝试的Key数量达到上限
func AttemptsExhausted(attempts int, last error) *AppError {
	return &AppError{
		Code:    ErrCodeAttemptsExhausted,
		Message: fmt.Sprintf("gave up after %d key attempts", attempts),
		Err:     last,
		Context: map[string]any{"attempts": attempts},
	}
}

// ============== 数据库错误工厂函数 ==============

// DBQueryError 数据库查询失败
func DBQueryError(operation string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeDBQuery,
		Message: fmt.Sprintf("database query failed: %s", operation),
		Err:     err,
		Context: map[string]any{"operation": operation},
	}
}

// DBUpdateError 数据库更新失败
func DBUpdateError(table string, id string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeDBUpdate,
		Message: fmt.Sprintf("failed to update %s (id: %s)", table, id),
		Err:     err,
		Context: map[string]any{"table": table, "id": id},
	}
}

// ============== 认证错误工厂函数 ==============

// UnauthorizedError 未授权
func UnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: "unauthorized: " + reason,
		Context: map[string]any{"reason": reason},
	}
}

// ============== 配置错误工厂函数 ==============

// InvalidConfigError 配置无效
func InvalidConfigError(field string, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidConfig,
		Message: fmt.Sprintf("invalid config field '%s': %s", field, reason),
		Context: map[string]any{"field": field, "reason": reason},
	}
}

// MissingConfigError 配置缺失
func MissingConfigError(field string) *AppError {
	return &AppError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("missing required config field: %s", field),
		Context: map[string]any{"field": field},
	}
}

// ============== 工具函数 ==============

// IsAppError 判断错误链中是否包含AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetErrorCode 获取错误代码（沿错误链查找）
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasErrorCode 判断错误是否为特定错误代码
func HasErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
