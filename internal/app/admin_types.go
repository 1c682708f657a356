package app

import (
	"errors"
	"fmt"
	"time"

	"keypool/internal/cooldown"
	"keypool/internal/model"
	"keypool/internal/pool"
	"keypool/internal/provider"
	"keypool/internal/util"
)

// EjectRequest 手动剔除请求
type EjectRequest struct {
	DurationMs int64 `json:"duration_ms" binding:"required"`
}

// Validate 实现 RequestValidator 接口
func (r *EjectRequest) Validate() error {
	if r.DurationMs < 1000 {
		return fmt.Errorf("duration_ms must be >= 1000, got %d", r.DurationMs)
	}
	return nil
}

// Duration 剔除时长
func (r *EjectRequest) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// ResetDailyRequest 每日重置请求（请求体可选）
type ResetDailyRequest struct {
	Restore bool `json:"restore"`
}

// Validate 实现 RequestValidator 接口
func (r *ResetDailyRequest) Validate() error { return nil }

// KeyResponse 单个Key的管理视图（不含密钥）
type KeyResponse struct {
	pool.KeyView
	Identifier string `json:"identifier"`
	CooldownMs int64  `json:"cooldown_remaining_ms"`
}

// NewKeyResponse 由快照视图构造，附带剩余冷却时间
func NewKeyResponse(v pool.KeyView, now time.Time) KeyResponse {
	resp := KeyResponse{
		KeyView:    v,
		Identifier: v.Health.Identifier,
	}
	if v.Health.RetryAt != nil {
		resp.CooldownMs = util.CalculateCooldownDuration(*v.Health.RetryAt, now)
	}
	return resp
}

// VerdictResponse 结果上报/探测的处理结论
type VerdictResponse struct {
	Identifier string `json:"identifier"`
	Action     string `json:"action"`
	Kind       string `json:"kind"`
	ErrorType  string `json:"error_type,omitempty"`
	Ejected    bool   `json:"ejected"`
	State      string `json:"state,omitempty"`
}

// NewVerdictResponse 由处理结论构造
func NewVerdictResponse(id string, v cooldown.Verdict, now time.Time) VerdictResponse {
	resp := VerdictResponse{
		Identifier: id,
		Action:     v.Action.String(),
		Kind:       v.Classification.Kind.String(),
		ErrorType:  v.Classification.ErrorType,
		Ejected:    v.Ejected,
	}
	if v.Record != nil {
		resp.State = v.Record.State(now)
	}
	return resp
}

// TestResponse /api/test 返回
type TestResponse struct {
	UsedKey string `json:"used_key"`
	Error   string `json:"error,omitempty"`
}

// ReportRequest 外部调用方上报一次调用结果（异步入队）
type ReportRequest struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Kind       string `json:"kind"` // 可选：request 表示调用方已确认是请求级错误
}

// Validate 实现 RequestValidator 接口
func (r *ReportRequest) Validate() error {
	if r.Success {
		return nil
	}
	if r.StatusCode == 0 && r.Message == "" {
		return fmt.Errorf("failed outcome needs status_code or message")
	}
	if r.StatusCode != 0 && (r.StatusCode < 100 || r.StatusCode > 599) {
		return fmt.Errorf("invalid status_code %d", r.StatusCode)
	}
	if r.Kind != "" {
		if _, err := util.ParseKind(r.Kind); err != nil {
			return err
		}
	}
	return nil
}

// Outcome 转换为分类器可识别的错误，成功返回 nil
func (r *ReportRequest) Outcome() error {
	if r.Success {
		return nil
	}
	var err error
	if r.StatusCode != 0 {
		err = &provider.StatusError{Code: r.StatusCode, Body: []byte(r.Message)}
	} else {
		err = errors.New(r.Message)
	}
	if k, _ := util.ParseKind(r.Kind); k == util.KindRequestSpecific {
		err = util.RequestError(err)
	}
	return err
}

// PolicyResponse 当前生效的选择策略、剔除策略和分类规则
type PolicyResponse struct {
	Strategy       string                   `json:"strategy"`
	PointerMode    string                   `json:"pointer_mode"`
	Policy         model.EjectionPolicy     `json:"policy"`
	Classification util.ClassificationRules `json:"classification"`
	KeyStatusCodes []int                    `json:"key_status_codes"`
}
