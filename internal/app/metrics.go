package app

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"keypool/internal/pool"

	"github.com/gin-gonic/gin"
)

// Metrics 系统监控指标
type Metrics struct {
	NumGoroutines int64 `json:"num_goroutines"`

	// 上报队列
	ReportQueueSize int64 `json:"report_queue_size"`
	ReportQueueCap  int64 `json:"report_queue_cap"`

	// Key状态
	Keys      int `json:"keys"`
	Healthy   int `json:"healthy"`
	Probation int `json:"probation"`
	Ejected   int `json:"ejected"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	UptimeSec   int64      `json:"uptime_seconds"`
}

// HealthStatus 健康状态
type HealthStatus struct {
	Healthy  bool     `json:"healthy"`
	Store    string   `json:"store"`
	Metrics  *Metrics `json:"metrics"`
	Warnings []string `json:"warnings,omitempty"`
}

// CheckHealth 健康检查：存储连通性 + Key可用性 + 资源泄漏迹象
func (s *Server) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Healthy:  true,
		Store:    "ok",
		Warnings: make([]string, 0),
		Metrics: &Metrics{
			NumGoroutines:   int64(runtime.NumGoroutine()),
			ReportQueueSize: int64(s.reporter.Pending()),
			ReportQueueCap:  int64(s.rt.Env.ReportQueueSize),
			Keys:            s.rt.Pool.Registry().Len(),
			UptimeSec:       int64(time.Since(s.startedAt).Seconds()),
		},
	}
	m := status.Metrics

	// 检查1：存储连通性
	if err := s.rt.Store.Ping(ctx); err != nil {
		status.Healthy = false
		status.Store = "unreachable"
		status.Warnings = append(status.Warnings, fmt.Sprintf("存储不可用: %v", err))
		return status
	}

	// 检查2：Key可用性
	views, err := s.rt.Pool.Snapshot(ctx)
	if err != nil {
		status.Healthy = false
		status.Warnings = append(status.Warnings, fmt.Sprintf("读取健康快照失败: %v", err))
		return status
	}
	counts := pool.Counts(views)
	m.Healthy, m.Probation, m.Ejected = counts["healthy"], counts["probation"], counts["ejected"]
	if m.Healthy+m.Probation == 0 {
		status.Healthy = false
		status.Warnings = append(status.Warnings, "所有Key都在冷却中")
	}
	if next := pool.NextRetry(views, s.rt.Manager.Now()); !next.IsZero() {
		m.NextRetryAt = &next
	}

	// 检查3：Goroutine数量异常
	if m.NumGoroutines > 1000 {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("Goroutine数量异常: %d (正常<1000)", m.NumGoroutines))
	}

	// 检查4：上报队列积压
	if m.ReportQueueCap > 0 {
		usage := float64(m.ReportQueueSize) / float64(m.ReportQueueCap) * 100
		if usage > 80 {
			status.Warnings = append(status.Warnings, fmt.Sprintf("上报队列积压: %.1f%% (阈值80%%)", usage))
		}
	}

	return status
}

// HandleHealth GET /health
func (s *Server) HandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := s.CheckHealth(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, StandardResponse[*HealthStatus]{Success: status.Healthy, Data: status})
}
