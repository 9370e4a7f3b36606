package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hayatos/config"
	"hayatos/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	cfg.Database.DSN = ":memory:"
	cfg.Queue.RetryDelay = 10 * time.Millisecond
	cfg.Account.SweepSchedule = ""
	return cfg
}

func startApp(t *testing.T, mode Mode) *App {
	t.Helper()
	app := NewAppWithConfig(testConfig(t), mode, logging.NewNoopLogger())
	require.NoError(t, app.LoadConfig())
	ctx := context.Background()
	require.NoError(t, app.SetupDependencies(ctx))
	require.NoError(t, app.StartBackgroundTasks(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, app.Shutdown(ctx))
	})
	return app
}

func call(h http.Handler, method, target, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_ServeWiring(t *testing.T) {
	app := startApp(t, ModeServe)
	h := app.Handler()
	require.NotNil(t, h)

	rec := call(h, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = call(h, http.MethodGet, "/faith/search?q=allah&limit=10", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total":6`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = call(h, http.MethodGet, "/faith/search?q=allah&page=0", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_PAGINATION")

	rec = call(h, http.MethodGet, "/habits", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(h, http.MethodPost, "/habits", "u1", `{"action":"create","name":"Tahajjud"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(h, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hayatos_http_requests_total")
	assert.Contains(t, rec.Body.String(), "hayatos_source_query_duration_seconds")
}

func TestApp_ExportRunsThroughQueue(t *testing.T) {
	app := startApp(t, ModeServe)
	h := app.Handler()

	rec := call(h, http.MethodPost, "/account/export", "u1", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		rec := call(h, http.MethodGet, fmt.Sprintf("/account/export/%d", created.Data.ID), "u1", "")
		return rec.Code == http.StatusOK && bytes.Contains(rec.Body.Bytes(), []byte(`"status":"completed"`))
	}, 2*time.Second, 20*time.Millisecond)

	assert.Contains(t, app.Transport().Stats().MessageTypes, "account.export")
}

func TestApp_WorkerModeHasNoHTTP(t *testing.T) {
	app := startApp(t, ModeWorker)
	assert.Nil(t, app.Handler())
	assert.True(t, app.Transport().Stats().Running)
	assert.ElementsMatch(t, []string{"account.delete", "account.export"}, app.Transport().Stats().MessageTypes)
}

func TestApp_InvalidConfigFailsLoad(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Driver = "kafka"
	app := NewAppWithConfig(cfg, ModeServe, logging.NewNoopLogger())
	err := app.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.driver")
}

func TestApp_RunWithEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"
	engine := NewEngine(NewAppWithConfig(cfg, ModeWorker, logging.NewNoopLogger()), WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	require.Eventually(t, func() bool { return engine.State() == StateRunning }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, StateStopped, engine.State())
}
