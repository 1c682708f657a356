package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// 错误分类器：区分Key级错误和请求级错误
// Key级错误计入健康度（可能导致剔除），请求级错误只返回给调用方，不影响Key健康度

// Kind 错误类别
type Kind int

const (
	// KindNone 无错误（成功）
	KindNone Kind = iota
	// KindKeySpecific Key级错误：超时、5xx、限流、认证失败等，记录失败
	KindKeySpecific
	// KindRequestSpecific 请求级错误：参数错误、格式错误等，不影响Key健康度
	KindRequestSpecific
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindKeySpecific:
		return "key"
	case KindRequestSpecific:
		return "request"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind 解析 key|request（配置文件使用）
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "key", "key_specific":
		return KindKeySpecific, nil
	case "request", "request_specific":
		return KindRequestSpecific, nil
	default:
		return KindNone, fmt.Errorf("unknown error kind %q: want key|request", s)
	}
}

// MarshalText yaml/json 序列化为 key|request
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 支持在yaml中直接写 key|request
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Classification 分类结果
type Classification struct {
	Kind       Kind
	ErrorType  string // 写入 recentErrors 的 errorType，如 http_429 / timeout / network
	Message    string
	StatusCode int // 0 表示非HTTP错误
}

// StatusCoder 携带上游HTTP状态码的错误（provider.StatusError 实现）
type StatusCoder interface {
	StatusCode() int
}

// ResponseBodier 携带上游响应体的错误（用于400等需要看响应体才能判断的场景）
type ResponseBodier interface {
	ResponseBody() []byte
}

// requestError 调用方显式标记的请求级错误
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// RequestError 将错误标记为请求级（调用方自行校验失败时使用）
func RequestError(err error) error {
	if err == nil {
		return nil
	}
	return &requestError{err: err}
}

// IsRequestError 是否被标记为请求级错误
func IsRequestError(err error) bool {
	var re *requestError
	return errors.As(err, &re)
}

// ClassificationRules 分类规则（可通过配置文件覆盖，运行时热加载）
type ClassificationRules struct {
	// Status 显式状态码映射，未列出的状态码：5xx为Key级，其他4xx为请求级
	Status map[int]Kind `yaml:"status" json:"status"`
	// KeyBodyPatterns 请求级状态码的响应体包含这些特征时升级为Key级（如400 invalid_api_key）
	KeyBodyPatterns []string `yaml:"key_body_patterns" json:"key_body_patterns"`
	// KeyPatterns 非HTTP错误消息包含这些特征时为Key级
	KeyPatterns []string `yaml:"key_patterns" json:"key_patterns"`
	// RequestPatterns 非HTTP错误消息包含这些特征时为请求级
	RequestPatterns []string `yaml:"request_patterns" json:"request_patterns"`
	// Default 无法识别的错误的默认类别
	Default Kind `yaml:"default" json:"default"`
}

// DefaultClassificationRules 默认分类规则
func DefaultClassificationRules() ClassificationRules {
	return ClassificationRules{
		Status: map[int]Kind{
			// === Key级错误：凭据本身的问题 ===
			401: KindKeySpecific, // Unauthorized - Key invalid
			402: KindKeySpecific, // Payment Required - quota/balance
			403: KindKeySpecific, // Forbidden - Key permission
			429: KindKeySpecific, // Too Many Requests - rate limited

			// === 请求级错误：不冷却，直接返回 ===
			400: KindRequestSpecific, // Bad Request（响应体命中KeyBodyPatterns时升级）
			404: KindRequestSpecific,
			405: KindRequestSpecific,
			406: KindRequestSpecific,
			408: KindRequestSpecific, // Request Timeout - client slow
			409: KindRequestSpecific,
			410: KindRequestSpecific,
			413: KindRequestSpecific,
			414: KindRequestSpecific,
			415: KindRequestSpecific,
			416: KindRequestSpecific,
			417: KindRequestSpecific,
			422: KindRequestSpecific,
		},
		KeyBodyPatterns: []string{
			"invalid_api_key",
			"api key not valid",
			"api_key_invalid",
		},
		KeyPatterns: []string{
			"429",
			"quota",
			"resource exhausted",
			"401",
			"403",
			"permission",
			"api key not valid",
			"fetch failed",
		},
		RequestPatterns: []string{
			"invalid argument",
			"malformed",
			"validation",
		},
		Default: KindKeySpecific,
	}
}

// Validate 校验规则
func (r ClassificationRules) Validate() error {
	for code, kind := range r.Status {
		if code < 100 || code > 999 {
			return fmt.Errorf("classification status %d out of range", code)
		}
		if kind != KindKeySpecific && kind != KindRequestSpecific {
			return fmt.Errorf("classification status %d: kind must be key|request", code)
		}
	}
	if r.Default != KindKeySpecific && r.Default != KindRequestSpecific {
		return fmt.Errorf("classification default must be key|request, got %s", r.Default)
	}
	return nil
}

// Merge 将 override 中已设置的字段覆盖到当前规则（Status按状态码逐条覆盖）
func (r ClassificationRules) Merge(override ClassificationRules) ClassificationRules {
	out := r
	if len(override.Status) > 0 {
		out.Status = make(map[int]Kind, len(r.Status)+len(override.Status))
		for code, kind := range r.Status {
			out.Status[code] = kind
		}
		for code, kind := range override.Status {
			out.Status[code] = kind
		}
	}
	if override.KeyBodyPatterns != nil {
		out.KeyBodyPatterns = override.KeyBodyPatterns
	}
	if override.KeyPatterns != nil {
		out.KeyPatterns = override.KeyPatterns
	}
	if override.RequestPatterns != nil {
		out.RequestPatterns = override.RequestPatterns
	}
	if override.Default != KindNone {
		out.Default = override.Default
	}
	return out
}

// Classifier 编译后的分类器（不可变，热加载时整体替换）
type Classifier struct {
	status          map[int]Kind
	keyBodyPatterns []string
	keyPatterns     []string
	requestPatterns []string
	fallback        Kind
}

// NewClassifier 根据规则构建分类器
func NewClassifier(rules ClassificationRules) (*Classifier, error) {
	if rules.Default == KindNone {
		rules.Default = KindKeySpecific
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		status:          make(map[int]Kind, len(rules.Status)),
		keyBodyPatterns: lowerAll(rules.KeyBodyPatterns),
		keyPatterns:     lowerAll(rules.KeyPatterns),
		requestPatterns: lowerAll(rules.RequestPatterns),
		fallback:        rules.Default,
	}
	for code, kind := range rules.Status {
		c.status[code] = kind
	}
	return c, nil
}

// DefaultClassifier 使用默认规则的分类器
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultClassificationRules())
	if err != nil {
		panic(err) // 默认规则必然合法
	}
	return c
}

func lowerAll(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Classify 统一错误分类入口
// 分层：显式标记 → 客户端取消 → HTTP状态码 → 超时/网络错误 → 字符串匹配 → 默认
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindNone}
	}
	msg := err.Error()

	// 快速路径1：调用方显式标记的请求级错误
	if IsRequestError(err) {
		return Classification{Kind: KindRequestSpecific, ErrorType: "request", Message: msg}
	}

	// 快速路径2：调用方主动取消，与Key无关
	if errors.Is(err, context.Canceled) {
		return Classification{Kind: KindRequestSpecific, ErrorType: "canceled", Message: msg}
	}

	// 快速路径3：上游HTTP状态码
	var sc StatusCoder
	if errors.As(err, &sc) {
		var body []byte
		var rb ResponseBodier
		if errors.As(err, &rb) {
			body = rb.ResponseBody()
		}
		cls := c.ClassifyStatus(sc.StatusCode(), body)
		cls.Message = msg
		return cls
	}

	// 快速路径4：等待上游超时，按Key级处理（与网络错误同路径）
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindKeySpecific, ErrorType: "timeout", Message: msg}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Classification{Kind: KindKeySpecific, ErrorType: "timeout", Message: msg}
		}
		return Classification{Kind: KindKeySpecific, ErrorType: "network", Message: msg}
	}

	// 慢速路径：回退到字符串匹配
	return c.classifyByString(msg)
}

// ClassifyStatus 按状态码 + 响应体分类
func (c *Classifier) ClassifyStatus(statusCode int, body []byte) Classification {
	cls := Classification{
		ErrorType:  "http_" + strconv.Itoa(statusCode),
		StatusCode: statusCode,
	}
	if statusCode >= 200 && statusCode < 300 {
		cls.Kind = KindNone
		return cls
	}

	kind, ok := c.status[statusCode]
	if !ok {
		switch {
		case statusCode >= 500:
			kind = KindKeySpecific
		case statusCode >= 400:
			kind = KindRequestSpecific
		default:
			kind = c.fallback
		}
	}

	// 请求级状态码但响应体明确指向Key（如400 invalid_api_key）
	if kind == KindRequestSpecific && len(body) > 0 && len(c.keyBodyPatterns) > 0 {
		bodyLower := strings.ToLower(string(body))
		for _, p := range c.keyBodyPatterns {
			if strings.Contains(bodyLower, p) {
				kind = KindKeySpecific
				break
			}
		}
	}
	cls.Kind = kind
	return cls
}

func (c *Classifier) classifyByString(msg string) Classification {
	lower := strings.ToLower(msg)
	for _, p := range c.keyPatterns {
		if strings.Contains(lower, p) {
			return Classification{Kind: KindKeySpecific, ErrorType: errorTypeForPattern(p), Message: msg}
		}
	}
	for _, p := range c.requestPatterns {
		if strings.Contains(lower, p) {
			return Classification{Kind: KindRequestSpecific, ErrorType: "request", Message: msg}
		}
	}
	return Classification{Kind: c.fallback, ErrorType: "unknown", Message: msg}
}

func errorTypeForPattern(p string) string {
	switch p {
	case "429", "quota", "resource exhausted":
		return "rate_limit"
	case "401", "403", "permission", "api key not valid":
		return "auth"
	case "fetch failed":
		return "network"
	default:
		return "provider"
	}
}

// Rules 导出当前规则（管理接口展示用）
func (c *Classifier) Rules() ClassificationRules {
	r := ClassificationRules{
		Status:          make(map[int]Kind, len(c.status)),
		KeyBodyPatterns: append([]string(nil), c.keyBodyPatterns...),
		KeyPatterns:     append([]string(nil), c.keyPatterns...),
		RequestPatterns: append([]string(nil), c.requestPatterns...),
		Default:         c.fallback,
	}
	for code, kind := range c.status {
		r.Status[code] = kind
	}
	return r
}

// KeyStatusCodes 返回显式配置为Key级的状态码（有序）
func (c *Classifier) KeyStatusCodes() []int {
	codes := make([]int, 0, len(c.status))
	for code, kind := range c.status {
		if kind == KindKeySpecific {
			codes = append(codes, code)
		}
	}
	sort.Ints(codes)
	return codes
}
