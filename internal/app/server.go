package app

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"keypool/internal/config"
	"keypool/internal/pool"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server HTTP服务：健康检查、指标、管理接口、调用测试
type Server struct {
	rt       *Runtime
	auth     *AuthService // nil 表示未配置管理密码，管理接口不注册
	reporter *pool.Reporter
	resp     *ResponseHelper

	startedAt time.Time

	// 优雅关闭机制
	shutdownCh chan struct{}  // 关闭信号channel
	wg         sync.WaitGroup // 等待所有后台goroutine结束
	closeOnce  sync.Once
}

// NewServer 创建服务（不启动后台任务，见 Start）
func NewServer(rt *Runtime) (*Server, error) {
	auth, err := NewAuthService(rt.Env.AdminPassword)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		log.Print("[WARN] 未设置 KEYPOOL_ADMIN_PASS，管理接口已禁用")
	}

	return &Server{
		rt:         rt,
		auth:       auth,
		reporter:   pool.NewReporter(rt.Pool, rt.Env.ReportQueueSize),
		resp:       NewResponseHelper(),
		startedAt:  time.Now(),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Reporter 异步结果上报器
func (s *Server) Reporter() *pool.Reporter {
	return s.reporter
}

// SetupRoutes 注册路由
func (s *Server) SetupRoutes(r *gin.Engine) {
	r.GET("/health", s.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.rt.Registry, promhttp.HandlerOpts{})))

	if s.auth == nil {
		return
	}

	admin := r.Group("/admin")
	admin.Use(s.auth.RequireAdmin())
	{
		admin.GET("/policy", s.HandleGetPolicy)
		admin.GET("/keys", s.HandleListKeys)
		admin.GET("/keys/:id", s.HandleGetKey)
		admin.POST("/keys/:id/eject", s.HandleEjectKey)
		admin.POST("/keys/:id/restore", s.HandleRestoreKey)
		admin.POST("/keys/:id/probe", s.HandleProbeKey)
		admin.POST("/keys/:id/report", s.HandleReport)
		admin.POST("/reset-daily", s.HandleResetDaily)
	}

	api := r.Group("/api")
	api.Use(s.auth.RequireAdmin())
	{
		api.POST("/test", s.HandleTest)
	}
}

// Start 启动后台任务：每日重置、配置文件监听
func (s *Server) Start() {
	env := s.rt.Env
	if env.DailyReset > 0 {
		s.wg.Add(1)
		go s.dailyResetLoop(env.DailyReset, env.DailyResetRestore)
	}

	if env.ConfigPath != "" {
		ctx, cancel := context.WithCancel(context.Background())
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			<-s.shutdownCh
			cancel()
		}()
		go func() {
			defer s.wg.Done()
			err := config.Watch(ctx, env.ConfigPath, func(fc *config.FileConfig) {
				if err := s.rt.ApplyFileConfig(fc); err != nil {
					log.Printf("[WARN] 配置热更新被拒绝: %v", err)
				}
			})
			if err != nil {
				log.Printf("[WARN] 配置文件监听启动失败: %v", err)
			}
		}()
	}
}

// Shutdown 优雅关闭：停止后台任务 → 排空上报队列 → 停止速率限制器
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdownCh)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Print("[WARN] 等待后台任务退出超时")
		}

		err = s.reporter.Close(ctx)
		s.auth.Close()
	})
	return err
}

// NewEngine 创建Gin引擎并注册路由
func (s *Server) NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	s.SetupRoutes(r)
	return r
}

// ListenAndServe 启动HTTP服务，ctx 取消后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.NewEngine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] 监听 %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()

	log.Print("[INFO] 正在关闭服务...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] HTTP服务关闭: %v", err)
	}
	return s.Shutdown(shutdownCtx)
}
