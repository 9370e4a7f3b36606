package basic

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	httpx "hayatos/http"
)

// TestHttpServer_MiddlewareOrder 验证全局中间件与路由组中间件的执行顺序。
func TestHttpServer_MiddlewareOrder(t *testing.T) {
	srv := NewHTTPServer(httpx.WebConfig{})

	order := make([]string, 0)

	srv.Use(func(ctx httpx.IHttpContext, next func() error) error {
		order = append(order, "global-before")
		err := next()
		order = append(order, "global-after")
		return err
	})

	group := srv.Group("/api")
	group.Use(func(ctx httpx.IHttpContext, next func() error) error {
		order = append(order, "group-before")
		err := next()
		order = append(order, "group-after")
		return err
	})

	group.GET("/test", func(ctx httpx.IHttpContext) error {
		order = append(order, "handler")
		return ctx.JSON(http.StatusOK, map[string]string{"ok": "1"})
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	expected := []string{"global-before", "group-before", "handler", "group-after", "global-after"}
	if !reflect.DeepEqual(order, expected) {
		t.Fatalf("unexpected middleware order: got %v, want %v", order, expected)
	}
}

// TestHttpServer_PathParams 验证 :id 风格路径参数
func TestHttpServer_PathParams(t *testing.T) {
	srv := NewHTTPServer(httpx.WebConfig{})

	var gotID string
	srv.GET("/users/:id", func(ctx httpx.IHttpContext) error {
		gotID = ctx.GetParam("id")
		return ctx.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if gotID != "42" {
		t.Fatalf("expected id=42, got %q", gotID)
	}
}

func TestHttpServer_MethodIsPartOfRoute(t *testing.T) {
	srv := NewHTTPServer(httpx.WebConfig{})
	srv.GET("/items", func(ctx httpx.IHttpContext) error { return ctx.String(http.StatusOK, "get") })
	srv.POST("/items", func(ctx httpx.IHttpContext) error { return ctx.String(http.StatusCreated, "post") })

	h := srv.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items", nil))
	if rec.Code != http.StatusCreated || rec.Body.String() != "post" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"NOT_FOUND"`) {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
}

func TestHttpServer_MountBypassesMiddleware(t *testing.T) {
	srv := NewHTTPServer(httpx.WebConfig{})
	called := false
	srv.Use(func(ctx httpx.IHttpContext, next func() error) error {
		called = true
		return next()
	})
	srv.Mount("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw"))
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Body.String() != "raw" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if called {
		t.Fatal("middleware must not run for mounted handlers")
	}
}

func TestConvertPathPattern(t *testing.T) {
	cases := map[string]string{
		"/users/:id":              "/users/{id}",
		"/account/export/:id/raw": "/account/export/{id}/raw",
		"/plain":                  "/plain",
	}
	for in, want := range cases {
		if got := convertPathPattern(in); got != want {
			t.Fatalf("convertPathPattern(%q) = %q, want %q", in, got, want)
		}
	}
}
