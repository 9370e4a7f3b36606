package basic

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpx "hayatos/http"
	"hayatos/logging"
	"hayatos/metrics"
)

func newServerWith(mw ...httpx.Middleware) *HttpServer {
	srv := NewHTTPServer(httpx.WebConfig{})
	srv.Use(mw...)
	return srv
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newServerWith(RequestIDMiddleware(logging.NewNoopLogger()))
	var seen string
	srv.GET("/ping", func(ctx httpx.IHttpContext) error {
		seen = httpx.RequestIDFrom(ctx.GetContext())
		return ctx.NoContent()
	})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(httpx.HeaderRequestID, "abc")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(httpx.HeaderRequestID))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
	assert.Equal(t, seen, rec.Header().Get(httpx.HeaderRequestID))
}

func TestPrincipalMiddleware(t *testing.T) {
	srv := newServerWith(PrincipalMiddleware(""))
	srv.GET("/me", func(ctx httpx.IHttpContext) error {
		p, err := httpx.RequirePrincipal(ctx)
		if err != nil {
			return err
		}
		return ctx.String(http.StatusOK, p.UserID)
	})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(httpx.DefaultUserIDKey, "u-1")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestRecoverMiddleware(t *testing.T) {
	srv := newServerWith(RecoverMiddleware(logging.NewNoopLogger()))
	srv.GET("/boom", func(ctx httpx.IHttpContext) error { panic("boom") })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("user:a"))
	assert.True(t, rl.Allow("user:a"))
	assert.False(t, rl.Allow("user:a"))
	assert.True(t, rl.Allow("user:b"), "buckets are independent")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("user:a"), "one token refilled after a second")
}

func TestRateLimiter_ForgetsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("ip:1.2.3.4")
	now = now.Add(time.Hour)
	rl.Allow("ip:5.6.7.8")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.limiters, 1)
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := newServerWith(PrincipalMiddleware(""), RateLimitMiddleware(NewRateLimiter(0.0001, 1)))
	srv.GET("/x", func(ctx httpx.IHttpContext) error { return ctx.NoContent() })
	h := srv.Handler()

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if user != "" {
			req.Header.Set(httpx.DefaultUserIDKey, user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusNoContent, do("u-1"))
	assert.Equal(t, http.StatusTooManyRequests, do("u-1"))
	assert.Equal(t, http.StatusNoContent, do("u-2"))
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	srv := newServerWith(MetricsMiddleware())
	srv.GET("/metrics-test/:id", func(ctx httpx.IHttpContext) error { return ctx.NoContent() })

	before := testutil.ToFloat64(metrics.RequestTotal.WithLabelValues("GET", "GET /metrics-test/:id", "204"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics-test/7", nil))
	after := testutil.ToFloat64(metrics.RequestTotal.WithLabelValues("GET", "GET /metrics-test/:id", "204"))
	assert.Equal(t, before+1, after)
}

func TestHttpContext_BodyLimitAndBind(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"name":"read","extra":1}`))
	ctx := NewBaseHttpContext(httptest.NewRecorder(), req)
	var dst struct {
		Name string `json:"name"`
	}
	err := ctx.BindJSON(&dst)
	require.Error(t, err, "unknown fields are rejected")

	req = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(strings.Repeat("a", 64)))
	ctx = NewBaseHttpContext(httptest.NewRecorder(), req)
	ctx.maxBody = 16
	_, err = ctx.GetBody()
	require.Error(t, err)
}
