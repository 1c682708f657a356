package app

import (
	"net/http"

	apperrors "keypool/internal/errors"

	"github.com/gin-gonic/gin"
)

// StandardResponse 统一API响应结构
type StandardResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"` // 机器可读错误码
}

// ResponseHelper 响应辅助函数集合
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手实例
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 返回成功响应
func (h *ResponseHelper) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, StandardResponse[any]{
		Success: true,
		Data:    data,
	})
}

// Error 返回错误响应（自动提取应用级错误码）
func (h *ResponseHelper) Error(c *gin.Context, httpCode int, err error) {
	resp := StandardResponse[any]{
		Success: false,
		Error:   err.Error(),
	}
	if code := apperrors.GetErrorCode(err); code != "" {
		resp.Code = string(code)
	}
	c.JSON(httpCode, resp)
}

// Fail 按错误码选择HTTP状态码
func (h *ResponseHelper) Fail(c *gin.Context, err error) {
	h.Error(c, statusForError(err), err)
}

// ErrorMsg 返回错误响应（仅消息）
func (h *ResponseHelper) ErrorMsg(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, StandardResponse[any]{
		Success: false,
		Error:   message,
	})
}

// BadRequest 快捷方法 - 400 错误
func (h *ResponseHelper) BadRequest(c *gin.Context, message string) {
	h.ErrorMsg(c, http.StatusBadRequest, message)
}

// Unauthorized 快捷方法 - 401 错误
func (h *ResponseHelper) Unauthorized(c *gin.Context, err error) {
	h.Error(c, http.StatusUnauthorized, err)
}

// statusForError 错误码 → HTTP状态码
func statusForError(err error) int {
	switch apperrors.GetErrorCode(err) {
	case apperrors.ErrCodeUnknownKey:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidConfig, apperrors.ErrCodeDuplicateKey:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodePoolExhausted, apperrors.ErrCodePointerContention, apperrors.ErrCodeMissingConfig:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeAttemptsExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
