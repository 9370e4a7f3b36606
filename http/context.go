package http

import "context"

// IResponseWriter 响应写入
type IResponseWriter interface {
	SetStatus(code int)
	SetHeader(key, value string)

	JSON(code int, obj any) error
	String(code int, text string) error
	Data(code int, contentType string, data []byte) error
	NoContent() error
}

// IContextStorage 请求内键值存储
type IContextStorage interface {
	Set(key string, value any)
	Get(key string) (any, bool)
}

// IFlowControl 请求流程控制
type IFlowControl interface {
	Abort()
	IsAborted() bool
}

// IHttpContext 处理器看到的请求上下文
type IHttpContext interface {
	IRequestReader
	IRequestBinder
	IResponseWriter
	IContextStorage
	IFlowControl

	// GetContext 请求的 context，中间件可通过 SetContext 附加值
	GetContext() context.Context
	SetContext(ctx context.Context)

	// Status 已写出（或将写出）的状态码
	Status() int
}

// HttpHandler 处理器函数类型
type HttpHandler func(ctx IHttpContext) error
