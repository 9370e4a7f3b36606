package http

import (
	"time"

	"hayatos/errors"
)

// ErrorPayload 错误响应
type ErrorPayload struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []errors.FieldError `json:"fields,omitempty"`
	Details map[string]any      `json:"details,omitempty"`
}

// ErrorEnvelope 错误响应外层
type ErrorEnvelope struct {
	Error     ErrorPayload `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// SuccessPayload 成功响应
type SuccessPayload struct {
	Data any `json:"data"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data any) *SuccessPayload {
	return &SuccessPayload{Data: data}
}

// WebConfig HTTP 服务配置
type WebConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxBodyBytes 请求体上限，0 表示 1MiB
	MaxBodyBytes int64
}
