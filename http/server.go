package http

import (
	"context"
	"net/http"
)

// IHttpServer HTTP 服务器
type IHttpServer interface {
	GET(path string, handler HttpHandler) IHttpServer
	POST(path string, handler HttpHandler) IHttpServer
	PUT(path string, handler HttpHandler) IHttpServer
	DELETE(path string, handler HttpHandler) IHttpServer
	PATCH(path string, handler HttpHandler) IHttpServer

	Group(prefix string) IRouteGroup
	Use(middleware ...Middleware) IHttpServer

	// Mount 挂载原始 http.Handler，不经过中间件链（如 /metrics）
	Mount(pattern string, h http.Handler) IHttpServer

	// Handler 注册全部路由并返回根 Handler
	Handler() http.Handler

	Start(addr string) error
	Stop(ctx context.Context) error
}

// Middleware HTTP 中间件
type Middleware func(ctx IHttpContext, next func() error) error

// IRouteGroup 路由组
type IRouteGroup interface {
	GET(path string, handler HttpHandler) IRouteGroup
	POST(path string, handler HttpHandler) IRouteGroup
	PUT(path string, handler HttpHandler) IRouteGroup
	DELETE(path string, handler HttpHandler) IRouteGroup
	PATCH(path string, handler HttpHandler) IRouteGroup

	Group(prefix string) IRouteGroup
	Use(middleware ...Middleware) IRouteGroup
}

// IRouteRegistrar 业务模块的路由注册器
type IRouteRegistrar interface {
	RegisterRoutes(group IRouteGroup)
	GetName() string
}
