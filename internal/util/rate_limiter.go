package util

import (
	"log"
	"sync"
	"time"
)

// AuthRateLimiter 管理接口鉴权速率限制器（防暴力破解）
// 设计原则：
// - 基于IP地址限制：防止单个IP暴力破解管理密码
// - 超过失败次数后锁定一段时间
// - 自动清理：超过重置间隔的记录定期删除
// 支持优雅关闭
type AuthRateLimiter struct {
	attempts map[string]*attemptRecord // IP -> 尝试记录
	mu       sync.RWMutex

	// 配置参数
	maxAttempts     int           // 最大连续失败次数
	lockoutDuration time.Duration // 锁定时长
	resetInterval   time.Duration // 计数重置间隔

	now func() time.Time

	// 优雅关闭机制
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// attemptRecord 尝试记录
type attemptRecord struct {
	count       int       // 失败次数
	lastAttempt time.Time // 最后尝试时间
	lockUntil   time.Time // 锁定截止时间
}

// NewAuthRateLimiter 创建鉴权速率限制器并启动后台清理
func NewAuthRateLimiter(maxAttempts int, lockout, reset time.Duration) *AuthRateLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	limiter := &AuthRateLimiter{
		attempts:        make(map[string]*attemptRecord),
		maxAttempts:     maxAttempts,
		lockoutDuration: lockout,
		resetInterval:   reset,
		now:             time.Now,
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
	}

	go limiter.cleanupLoop()

	return limiter
}

// SetClock 替换时钟（测试使用）
func (rl *AuthRateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	rl.now = now
	rl.mu.Unlock()
}

// Locked 该IP当前是否处于锁定期
func (rl *AuthRateLimiter) Locked(ip string) bool {
	return rl.LockoutRemaining(ip) > 0
}

// RecordFailure 记录一次鉴权失败，返回是否因此进入锁定
func (rl *AuthRateLimiter) RecordFailure(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	record, exists := rl.attempts[ip]
	if !exists {
		record = &attemptRecord{}
		rl.attempts[ip] = record
	}

	// 重置计数（超过重置间隔）
	if now.Sub(record.lastAttempt) > rl.resetInterval {
		record.count = 0
	}

	record.count++
	record.lastAttempt = now

	if record.count >= rl.maxAttempts {
		record.lockUntil = now.Add(rl.lockoutDuration)
		record.count = 0
		log.Printf("[WARN] 管理接口鉴权连续失败，锁定IP %s %v", SanitizeLogMessage(ip), rl.lockoutDuration)
		return true
	}
	return false
}

// RecordSuccess 鉴权成功（清除该IP的失败记录）
func (rl *AuthRateLimiter) RecordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.attempts, ip)
}

// LockoutRemaining 锁定剩余时间，0 表示未锁定
func (rl *AuthRateLimiter) LockoutRemaining(ip string) time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	record, exists := rl.attempts[ip]
	if !exists {
		return 0
	}
	if d := record.lockUntil.Sub(rl.now()); d > 0 {
		return d
	}
	return 0
}

// FailureCount 当前连续失败次数
func (rl *AuthRateLimiter) FailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	record, exists := rl.attempts[ip]
	if !exists {
		return 0
	}
	if rl.now().Sub(record.lastAttempt) > rl.resetInterval {
		return 0
	}
	return record.count
}

// cleanupLoop 定期清理过期记录（后台协程）
func (rl *AuthRateLimiter) cleanupLoop() {
	defer close(rl.done)

	interval := rl.resetInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup 清理超过重置间隔且不在锁定期的记录
func (rl *AuthRateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for ip, record := range rl.attempts {
		if now.Sub(record.lastAttempt) > rl.resetInterval && now.After(record.lockUntil) {
			delete(rl.attempts, ip)
			removed++
		}
	}
	return removed
}

// Stop 停止后台清理协程（幂等）
func (rl *AuthRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
	<-rl.done
}
