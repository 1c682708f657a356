package app

import (
	"errors"
	"io"
	"math"
	"strconv"
	"time"

	apperrors "keypool/internal/errors"

	"github.com/gin-gonic/gin"
)

// RequestValidator 请求验证器接口
type RequestValidator interface {
	Validate() error
}

// BindAndValidate 绑定请求数据并验证
func BindAndValidate(c *gin.Context, obj RequestValidator) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return err
	}
	return obj.Validate()
}

// BindOptional 请求体为空时跳过绑定，只做验证
func BindOptional(c *gin.Context, obj RequestValidator) error {
	if c.Request.ContentLength == 0 {
		return obj.Validate()
	}
	err := BindAndValidate(c, obj)
	if errors.Is(err, io.EOF) {
		return obj.Validate()
	}
	return err
}

// retryAfterSeconds Retry-After 头（向上取整，至少1秒）
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// nextRetryIn 从耗尽错误中取最早恢复时间
func nextRetryIn(err error, now time.Time) time.Duration {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return 0
	}
	at, ok := appErr.Context["next_retry_at"].(time.Time)
	if !ok {
		return 0
	}
	return at.Sub(now)
}
