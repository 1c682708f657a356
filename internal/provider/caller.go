// Package provider 上游调用边界：携带凭据发起HTTP请求，非2xx转换为可分类的错误
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"keypool/internal/config"
	"keypool/internal/util"
)

// StatusError 上游返回非2xx
// 实现 util.StatusCoder / util.ResponseBodier，由分类器按状态码和响应体判定
type StatusError struct {
	Code    int
	Body    []byte
	ReadErr error // 读取响应体中途失败时非空，Body 为已读到的部分
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("upstream returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Code, util.SanitizeLogMessage(body))
}

// StatusCode 上游HTTP状态码
func (e *StatusError) StatusCode() int { return e.Code }

// ResponseBody 上游响应体（已截断）
func (e *StatusError) ResponseBody() []byte { return e.Body }

// HTTPCaller 向固定URL发起请求，密钥放在可配置的请求头中
type HTTPCaller struct {
	url     string
	header  string
	method  string
	body    []byte
	timeout time.Duration
	client  *http.Client
}

// Option HTTPCaller 选项
type Option func(*HTTPCaller)

// WithClient 替换HTTP客户端（测试使用 httptest 服务器的客户端）
func WithClient(c *http.Client) Option {
	return func(h *HTTPCaller) { h.client = c }
}

// WithTimeout 单次调用超时
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPCaller) { h.timeout = d }
}

// WithJSONBody 使用POST发送固定的JSON请求体
func WithJSONBody(body []byte) Option {
	return func(h *HTTPCaller) {
		h.method = http.MethodPost
		h.body = body
	}
}

// NewHTTPCaller 创建调用器
// header 为空时使用 config.DefaultProbeHeader；"Authorization" 自动加 Bearer 前缀
func NewHTTPCaller(url, header string, opts ...Option) *HTTPCaller {
	if header == "" {
		header = config.DefaultProbeHeader
	}
	h := &HTTPCaller{
		url:     url,
		header:  header,
		method:  http.MethodGet,
		timeout: config.DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = newHTTPClient()
	}
	return h
}

// newHTTPClient 连接建立阶段的超时由 Transport 控制，整体超时由调用上下文控制
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.HTTPDialTimeout,
		KeepAlive: config.HTTPKeepAliveInterval,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: config.HTTPMaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: config.HTTPTLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport}
}

// URL 目标地址
func (h *HTTPCaller) URL() string { return h.url }

// Call 使用给定密钥发起一次请求
//   - 2xx 返回 nil
//   - 非2xx 返回 *StatusError（响应体截断到 HTTPMaxErrorBodyBytes）
//   - 超时返回 context.DeadlineExceeded（分类为Key级）
func (h *HTTPCaller) Call(ctx context.Context, secret string) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var body io.Reader
	if h.body != nil {
		body = bytes.NewReader(h.body)
	}
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, body)
	if err != nil {
		return util.RequestError(fmt.Errorf("build request: %w", err))
	}
	if h.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.EqualFold(h.header, "Authorization") {
		req.Header.Set("Authorization", "Bearer "+secret)
	} else {
		req.Header.Set(h.header, secret)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// 错误信息可能包含URL，不包含请求头，密钥不会出现在这里
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, config.HTTPMaxErrorBodyBytes))
		return nil
	}

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, config.HTTPMaxErrorBodyBytes))
	if readErr != nil {
		util.SafePrintf("[WARN] 读取上游错误响应体失败（status=%d，已读 %d 字节）: %v", resp.StatusCode, len(data), readErr)
	}
	return &StatusError{Code: resp.StatusCode, Body: data, ReadErr: readErr}
}

// Probe 实现 pool.Prober
func (h *HTTPCaller) Probe(ctx context.Context, secret string) error {
	return h.Call(ctx, secret)
}
