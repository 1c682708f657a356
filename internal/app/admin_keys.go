package app

import (
	"context"
	"errors"
	"net/http"

	"keypool/internal/config"
	apperrors "keypool/internal/errors"
	"keypool/internal/pool"

	"github.com/gin-gonic/gin"
)

// ==================== Key管理 ====================

// HandleGetPolicy 当前生效的策略（含热更新后的分类规则）
func (s *Server) HandleGetPolicy(c *gin.Context) {
	classifier := s.rt.Manager.Classifier()
	pointerMode := config.PointerLocal
	if s.rt.Pool.Shared() {
		pointerMode = config.PointerShared
	}
	s.resp.Success(c, PolicyResponse{
		Strategy:       string(s.rt.Pool.Strategy()),
		PointerMode:    pointerMode,
		Policy:         s.rt.Manager.Policy(),
		Classification: classifier.Rules(),
		KeyStatusCodes: classifier.KeyStatusCodes(),
	})
}

// HandleListKeys 按轮询顺序列出所有Key的健康视图
func (s *Server) HandleListKeys(c *gin.Context) {
	views, err := s.rt.Pool.Snapshot(c.Request.Context())
	if err != nil {
		s.resp.Fail(c, err)
		return
	}

	now := s.rt.Manager.Now()
	out := make([]KeyResponse, len(views))
	for i, v := range views {
		out[i] = NewKeyResponse(v, now)
	}
	s.resp.Success(c, out)
}

// HandleGetKey 单个Key的健康视图
func (s *Server) HandleGetKey(c *gin.Context) {
	id := c.Param("id")
	pos := s.rt.Pool.Registry().Position(id)
	if pos < 0 {
		s.resp.Fail(c, apperrors.UnknownKey(id))
		return
	}

	views, err := s.rt.Pool.Snapshot(c.Request.Context())
	if err != nil {
		s.resp.Fail(c, err)
		return
	}
	s.resp.Success(c, NewKeyResponse(views[pos], s.rt.Manager.Now()))
}

// HandleEjectKey 手动剔除Key
func (s *Server) HandleEjectKey(c *gin.Context) {
	id := c.Param("id")
	if s.rt.Pool.Registry().Position(id) < 0 {
		s.resp.Fail(c, apperrors.UnknownKey(id))
		return
	}

	var req EjectRequest
	if err := BindAndValidate(c, &req); err != nil {
		s.resp.BadRequest(c, err.Error())
		return
	}

	rec, err := s.rt.Manager.Eject(c.Request.Context(), id, req.Duration())
	if err != nil {
		s.resp.Fail(c, err)
		return
	}
	s.resp.Success(c, rec)
}

// HandleRestoreKey 手动恢复Key（等同一次成功）
func (s *Server) HandleRestoreKey(c *gin.Context) {
	id := c.Param("id")
	if s.rt.Pool.Registry().Position(id) < 0 {
		s.resp.Fail(c, apperrors.UnknownKey(id))
		return
	}

	rec, err := s.rt.Manager.Restore(c.Request.Context(), id)
	if err != nil {
		s.resp.Fail(c, err)
		return
	}
	s.resp.Success(c, rec)
}

// HandleProbeKey 显式探测Key
func (s *Server) HandleProbeKey(c *gin.Context) {
	id := c.Param("id")
	v, err := s.rt.Pool.Probe(c.Request.Context(), id, s.rt.ProbeTarget())
	if err != nil {
		s.resp.Fail(c, err)
		return
	}
	s.resp.Success(c, NewVerdictResponse(id, v, s.rt.Manager.Now()))
}

// HandleResetDaily 清零每日失败计数
func (s *Server) HandleResetDaily(c *gin.Context) {
	var req ResetDailyRequest
	if err := BindOptional(c, &req); err != nil {
		s.resp.BadRequest(c, err.Error())
		return
	}

	n, err := s.rt.Manager.ResetDaily(c.Request.Context(), s.rt.Pool.Registry().Identifiers(), req.Restore)
	if err != nil {
		s.resp.Fail(c, err)
		return
	}
	s.resp.Success(c, gin.H{"reset": n, "restored": req.Restore})
}

// HandleReport 外部调用方上报结果，异步入队处理
// 队列满时返回 503，结果被丢弃（健康状态是尽力而为的）
func (s *Server) HandleReport(c *gin.Context) {
	id := c.Param("id")
	if s.rt.Pool.Registry().Position(id) < 0 {
		s.resp.Fail(c, apperrors.UnknownKey(id))
		return
	}

	var req ReportRequest
	if err := BindAndValidate(c, &req); err != nil {
		s.resp.BadRequest(c, err.Error())
		return
	}

	if !s.reporter.Report(id, req.Outcome()) {
		s.resp.ErrorMsg(c, http.StatusServiceUnavailable, "report queue full")
		return
	}
	c.JSON(http.StatusAccepted, StandardResponse[gin.H]{Success: true, Data: gin.H{"queued": true}})
}

// ==================== 调用测试 ====================

// HandleTest 使用池中的Key调用探测地址，Key级失败自动换Key
func (s *Server) HandleTest(c *gin.Context) {
	prober := s.rt.ProbeTarget()
	if prober == nil {
		s.resp.Fail(c, apperrors.MissingConfigError("KEYPOOL_PROBE_URL"))
		return
	}

	cred, err := s.rt.Pool.Do(c.Request.Context(), func(ctx context.Context, cred pool.Credential) error {
		return prober.Probe(ctx, cred.Secret)
	})
	if err != nil {
		status := statusForError(err)
		if !apperrors.IsAppError(err) {
			// 上游请求级失败
			status = http.StatusBadGateway
		}
		if errors.Is(err, pool.ErrPoolExhausted) {
			if d := nextRetryIn(err, s.rt.Manager.Now()); d > 0 {
				c.Header("Retry-After", retryAfterSeconds(d))
			}
		}
		c.JSON(status, StandardResponse[TestResponse]{
			Success: false,
			Data:    TestResponse{UsedKey: cred.Identifier},
			Error:   err.Error(),
			Code:    string(apperrors.GetErrorCode(err)),
		})
		return
	}
	s.resp.Success(c, TestResponse{UsedKey: cred.Identifier})
}
