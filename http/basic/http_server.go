package basic

import (
	"context"
	stdErrors "errors"
	"net/http"
	"strings"
	"sync"

	httpx "hayatos/http"
	"hayatos/logging"
)

// HttpServer 基于标准库 net/http 的 IHttpServer 实现
type HttpServer struct {
	mux         *http.ServeMux
	config      httpx.WebConfig
	server      *http.Server
	routes      []*route
	mounts      map[string]http.Handler
	middlewares []httpx.Middleware
	errors      *HttpUtils
	once        sync.Once
	mu          sync.RWMutex
}

var _ httpx.IHttpServer = (*HttpServer)(nil)

type route struct {
	method  string
	pattern string
	handler httpx.HttpHandler
}

// NewHTTPServer 创建服务器
func NewHTTPServer(config httpx.WebConfig) *HttpServer {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &HttpServer{
		mux:    http.NewServeMux(),
		config: config,
		mounts: make(map[string]http.Handler),
		errors: &HttpUtils{Logger: logging.ComponentLogger("http")},
	}
}

// WithLogger 设置错误响应使用的 Logger
func (s *HttpServer) WithLogger(l logging.Logger) *HttpServer {
	if l != nil {
		s.errors = &HttpUtils{Logger: l}
	}
	return s
}

func (s *HttpServer) GET(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.addRoute(http.MethodGet, path, handler)
}
func (s *HttpServer) POST(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.addRoute(http.MethodPost, path, handler)
}
func (s *HttpServer) PUT(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.addRoute(http.MethodPut, path, handler)
}
func (s *HttpServer) DELETE(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.addRoute(http.MethodDelete, path, handler)
}
func (s *HttpServer) PATCH(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.addRoute(http.MethodPatch, path, handler)
}

func (s *HttpServer) addRoute(method, path string, handler httpx.HttpHandler) httpx.IHttpServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, &route{method: method, pattern: path, handler: handler})
	return s
}

// Group 路由分组
func (s *HttpServer) Group(prefix string) httpx.IRouteGroup {
	return &RouteGroup{prefix: prefix, server: s}
}

// Use 全局中间件
func (s *HttpServer) Use(middleware ...httpx.Middleware) httpx.IHttpServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, middleware...)
	return s
}

// Mount 挂载原始 Handler
func (s *HttpServer) Mount(pattern string, h http.Handler) httpx.IHttpServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts[pattern] = h
	return s
}

// Handler 首次调用时注册全部路由，之后新增的路由不再生效
func (s *HttpServer) Handler() http.Handler {
	s.once.Do(s.registerRoutes)
	return s.mux
}

// Start 阻塞运行直到 Stop，正常关闭返回 nil
func (s *HttpServer) Start(addr string) error {
	if addr == "" {
		addr = s.config.Addr
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	if err := srv.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭，等待处理中的请求完成
func (s *HttpServer) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *HttpServer) registerRoutes() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for pattern, h := range s.mounts {
		s.mux.Handle(pattern, h)
	}
	for _, r := range s.routes {
		s.mux.HandleFunc(r.method+" "+convertPathPattern(r.pattern), s.createHandler(r))
	}
	s.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		ctx := NewBaseHttpContext(w, req)
		_ = s.errors.WriteErrorResponse(ctx, errNotFound(req))
	})
}

// convertPathPattern 将 :id 转为 {id}
func convertPathPattern(pattern string) string {
	parts := strings.Split(pattern, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}

func (s *HttpServer) createHandler(r *route) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := NewBaseHttpContext(w, req)
		ctx.maxBody = s.config.MaxBodyBytes
		ctx.Set(httpx.RouteKey, r.method+" "+r.pattern)
		for _, part := range strings.Split(strings.Trim(r.pattern, "/"), "/") {
			if strings.HasPrefix(part, ":") {
				ctx.SetParam(part[1:], req.PathValue(part[1:]))
			}
		}
		s.mu.RLock()
		middlewares := append([]httpx.Middleware{}, s.middlewares...)
		s.mu.RUnlock()
		if err := executeMiddlewareChain(ctx, middlewares, r.handler); err != nil {
			_ = s.errors.WriteErrorResponse(ctx, err)
		}
	}
}

func executeMiddlewareChain(ctx httpx.IHttpContext, middlewares []httpx.Middleware, handler httpx.HttpHandler) error {
	if len(middlewares) == 0 {
		if ctx.IsAborted() {
			return nil
		}
		return handler(ctx)
	}
	return middlewares[0](ctx, func() error { return executeMiddlewareChain(ctx, middlewares[1:], handler) })
}

// RouteGroup 路由组
type RouteGroup struct {
	prefix      string
	server      *HttpServer
	middlewares []httpx.Middleware
}

func (g *RouteGroup) GET(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.add(http.MethodGet, path, h)
}
func (g *RouteGroup) POST(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.add(http.MethodPost, path, h)
}
func (g *RouteGroup) PUT(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.add(http.MethodPut, path, h)
}
func (g *RouteGroup) DELETE(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.add(http.MethodDelete, path, h)
}
func (g *RouteGroup) PATCH(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.add(http.MethodPatch, path, h)
}

// Group 子分组继承父分组的中间件
func (g *RouteGroup) Group(prefix string) httpx.IRouteGroup {
	return &RouteGroup{
		prefix:      g.prefix + prefix,
		server:      g.server,
		middlewares: append([]httpx.Middleware{}, g.middlewares...),
	}
}

func (g *RouteGroup) Use(mw ...httpx.Middleware) httpx.IRouteGroup {
	g.middlewares = append(g.middlewares, mw...)
	return g
}

func (g *RouteGroup) add(method, path string, h httpx.HttpHandler) httpx.IRouteGroup {
	mws := append([]httpx.Middleware{}, g.middlewares...)
	g.server.addRoute(method, g.prefix+path, func(ctx httpx.IHttpContext) error {
		return executeMiddlewareChain(ctx, mws, h)
	})
	return g
}
