// Package http 精简的 HTTP 抽象，业务处理器只依赖这里的接口
package http

import (
	"context"
	"net/http"
	"net/url"
)

// IRequestReader 请求读取
type IRequestReader interface {
	GetMethod() string
	GetPath() string
	GetHeader(key string) string
	GetQuery(key string) string
	GetParam(key string) string
	GetQueryParams() url.Values

	// GetBody 读取请求体，同一请求可重复调用
	GetBody() ([]byte, error)
	GetRequest() *http.Request

	ClientIP() string
	UserAgent() string
}

// IRequestBinder 请求绑定
type IRequestBinder interface {
	BindJSON(obj any) error
}

// 预定义存储键（IContextStorage）
const (
	RequestIDKey     = "request_id"
	RouteKey         = "route"
	ResponseWritten  = "response_written"
	HeaderRequestID  = "X-Request-ID"
	DefaultUserIDKey = "X-User-ID"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyPrincipal contextKey = "principal"
)

// WithRequestID 在 context 中设置请求 id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFrom 读取请求 id，不存在返回空字符串
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
