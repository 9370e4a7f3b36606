package basic

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/logging"
	"hayatos/metrics"
)

func errNotFound(r *http.Request) error {
	return errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}

// RequestIDMiddleware 读取或生成请求 id，回写响应头并写访问日志
func RequestIDMiddleware(logger logging.Logger) httpx.Middleware {
	if logger == nil {
		logger = logging.ComponentLogger("http.access")
	}
	return func(ctx httpx.IHttpContext, next func() error) error {
		id := strings.TrimSpace(ctx.GetHeader(httpx.HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		ctx.Set(httpx.RequestIDKey, id)
		ctx.SetHeader(httpx.HeaderRequestID, id)
		ctx.SetContext(httpx.WithRequestID(ctx.GetContext(), id))

		start := time.Now()
		err := next()
		status := ctx.Status()
		if err != nil {
			status = StatusFor(errors.GetErrorCode(errors.Normalize(err)))
		}
		logger.Info(ctx.GetContext(), "request",
			logging.String("request_id", id),
			logging.String("method", ctx.GetMethod()),
			logging.String("path", ctx.GetPath()),
			logging.Int("status", status),
			logging.Duration("duration", time.Since(start)),
			logging.String("user_id", httpx.PrincipalFrom(ctx.GetContext()).UserID),
			logging.String("ip", ctx.ClientIP()))
		return err
	}
}

// PrincipalMiddleware 从上游网关设置的请求头读取调用方，header 为空时使用 X-User-ID。
// 缺省时请求以匿名身份继续，由需要身份的处理器自行拒绝。
func PrincipalMiddleware(header string) httpx.Middleware {
	if header == "" {
		header = httpx.DefaultUserIDKey
	}
	return func(ctx httpx.IHttpContext, next func() error) error {
		if uid := strings.TrimSpace(ctx.GetHeader(header)); uid != "" {
			ctx.SetContext(httpx.WithPrincipal(ctx.GetContext(), httpx.Principal{UserID: uid}))
		}
		return next()
	}
}

// RecoverMiddleware 把处理器 panic 转为 INTERNAL_ERROR
func RecoverMiddleware(logger logging.Logger) httpx.Middleware {
	if logger == nil {
		logger = logging.ComponentLogger("http")
	}
	return func(ctx httpx.IHttpContext, next func() error) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx.GetContext(), "handler panic",
					logging.String("path", ctx.GetPath()),
					logging.Any("panic", r))
				err = errors.NewError(errors.ErrCodeInternal, "internal server error")
			}
		}()
		return next()
	}
}

// MetricsMiddleware 记录请求计数与耗时，route 取注册时的模式
func MetricsMiddleware() httpx.Middleware {
	return func(ctx httpx.IHttpContext, next func() error) error {
		start := time.Now()
		err := next()
		route := ctx.GetPath()
		if v, ok := ctx.Get(httpx.RouteKey); ok {
			if s, _ := v.(string); s != "" {
				route = s
			}
		}
		status := ctx.Status()
		if err != nil {
			status = StatusFor(errors.GetErrorCode(errors.Normalize(err)))
		}
		metrics.RequestTotal.WithLabelValues(ctx.GetMethod(), route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(ctx.GetMethod(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// RateLimiter 按调用方（匿名时按 IP）维护令牌桶
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	lastGC   time.Time
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter rps 为每秒令牌数，burst 为桶容量
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      15 * time.Minute,
		now:      time.Now,
	}
}

// Allow 消耗 key 的一个令牌
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	if now.Sub(rl.lastGC) > rl.ttl {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) > rl.ttl {
				delete(rl.limiters, k)
			}
		}
		rl.lastGC = now
	}
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// RateLimitMiddleware 超限时返回 TOO_MANY_REQUESTS，须放在 PrincipalMiddleware 之后
func RateLimitMiddleware(rl *RateLimiter) httpx.Middleware {
	return func(ctx httpx.IHttpContext, next func() error) error {
		key := "ip:" + ctx.ClientIP()
		if p := httpx.PrincipalFrom(ctx.GetContext()); !p.Anonymous() {
			key = "user:" + p.UserID
		}
		if !rl.Allow(key) {
			ctx.Abort()
			return errors.NewError(errors.ErrCodeTooManyRequests, "rate limit exceeded")
		}
		return next()
	}
}
