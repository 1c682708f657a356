package app

import (
	"net/http"
	"strings"

	"keypool/internal/config"
	apperrors "keypool/internal/errors"
	"keypool/internal/util"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AuthService 管理接口认证
// 职责：
//   - 管理员密码只以bcrypt哈希驻留内存
//   - Bearer 校验
//   - 按IP限制连续失败（防暴力破解）
type AuthService struct {
	passwordHash []byte
	limiter      *util.AuthRateLimiter
	resp         *ResponseHelper
}

// NewAuthService 创建认证服务实例
// password 为空时返回 nil（管理接口不启用）
func NewAuthService(password string) (*AuthService, error) {
	if password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &AuthService{
		passwordHash: hash,
		limiter:      util.NewAuthRateLimiter(config.AuthMaxFailedAttempts, config.AuthLockoutDuration, config.AuthAttemptResetInterval),
		resp:         NewResponseHelper(),
	}, nil
}

// Close 停止速率限制器后台协程
func (s *AuthService) Close() {
	if s == nil {
		return
	}
	s.limiter.Stop()
}

// verify 常量时间比较（bcrypt）
func (s *AuthService) verify(token string) bool {
	return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(token)) == nil
}

// RequireAdmin 管理接口认证中间件
func (s *AuthService) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		if d := s.limiter.LockoutRemaining(ip); d > 0 {
			c.Header("Retry-After", retryAfterSeconds(d))
			s.resp.Error(c, http.StatusTooManyRequests,
				apperrors.UnauthorizedError("too many failed attempts").WithContext("retry_after", d.String()))
			c.Abort()
			return
		}

		const prefix = "Bearer "
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, prefix) && s.verify(strings.TrimPrefix(authHeader, prefix)) {
			s.limiter.RecordSuccess(ip)
			c.Next()
			return
		}

		s.limiter.RecordFailure(ip)
		s.resp.Unauthorized(c, apperrors.UnauthorizedError("invalid or missing admin token"))
		c.Abort()
	}
}
