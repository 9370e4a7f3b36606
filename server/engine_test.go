package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer 记录生命周期调用顺序，可为各步骤注入错误
type fakeServer struct {
	mu    sync.Mutex
	steps []string

	loadErr  error
	setupErr error
	bgErr    error
	runErr   error
	stopErr  error

	// block 为 true 时 Run 阻塞到 ctx 取消
	block  bool
	bgDone chan struct{}
}

func (s *fakeServer) record(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *fakeServer) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

func (s *fakeServer) Name() string { return "fake" }

func (s *fakeServer) LoadConfig() error {
	s.record("LoadConfig")
	return s.loadErr
}

func (s *fakeServer) SetupDependencies(context.Context) error {
	s.record("SetupDependencies")
	return s.setupErr
}

func (s *fakeServer) StartBackgroundTasks(ctx context.Context) error {
	s.record("StartBackgroundTasks")
	if s.bgDone != nil {
		go func() {
			<-ctx.Done()
			close(s.bgDone)
		}()
	}
	return s.bgErr
}

func (s *fakeServer) Run(ctx context.Context) error {
	s.record("Run")
	if s.block {
		<-ctx.Done()
	}
	return s.runErr
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.record("Shutdown")
	return s.stopErr
}

func assertSteps(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected lifecycle steps: got %v, want %v", got, want)
	}
}

func TestEngine_LifecycleOrder(t *testing.T) {
	srv := &fakeServer{}
	engine := NewEngine(srv, WithShutdownTimeout(50*time.Millisecond))

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if engine.State() != StateStopped {
		t.Fatalf("expected state %v, got %v", StateStopped, engine.State())
	}
	assertSteps(t, srv.snapshot(), "LoadConfig", "SetupDependencies", "StartBackgroundTasks", "Run", "Shutdown")
}

func TestEngine_RunErrorPropagates(t *testing.T) {
	runErr := errors.New("listen failed")
	srv := &fakeServer{runErr: runErr}
	engine := NewEngine(srv)

	err := engine.Run(context.Background())
	if !errors.Is(err, runErr) {
		t.Fatalf("expected error wrapping runErr, got %v", err)
	}
	if !strings.Contains(err.Error(), "server execution error") {
		t.Fatalf("unexpected error message: %v", err)
	}
	if engine.State() != StateError {
		t.Fatalf("expected state %v, got %v", StateError, engine.State())
	}
	assertSteps(t, srv.snapshot(), "LoadConfig", "SetupDependencies", "StartBackgroundTasks", "Run", "Shutdown")
}

func TestEngine_LoadConfigErrorStopsEarly(t *testing.T) {
	srv := &fakeServer{loadErr: errors.New("bad config")}
	engine := NewEngine(srv)

	err := engine.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Fatalf("expected load config error, got %v", err)
	}
	assertSteps(t, srv.snapshot(), "LoadConfig")
	if engine.State() != StateError {
		t.Fatalf("expected state %v, got %v", StateError, engine.State())
	}
}

func TestEngine_SetupErrorReleasesResources(t *testing.T) {
	srv := &fakeServer{setupErr: errors.New("db unreachable")}
	engine := NewEngine(srv)

	err := engine.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to setup dependencies") {
		t.Fatalf("expected setup error, got %v", err)
	}
	assertSteps(t, srv.snapshot(), "LoadConfig", "SetupDependencies", "Shutdown")
}

func TestEngine_ContextCancelStopsBlockingServer(t *testing.T) {
	srv := &fakeServer{block: true, bgDone: make(chan struct{})}
	var afterStop bool
	engine := NewEngine(srv,
		WithShutdownTimeout(50*time.Millisecond),
		WithAfterStop(func(context.Context) error {
			afterStop = true
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for engine.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("engine did not reach running state, got %v", engine.State())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after context cancel")
	}
	select {
	case <-srv.bgDone:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("background task context was not cancelled")
	}
	if !afterStop {
		t.Fatal("after stop hook was not called")
	}
}

func TestEngine_BeforeStartHookError(t *testing.T) {
	srv := &fakeServer{}
	engine := NewEngine(srv, WithBeforeStart(func(context.Context) error { return errors.New("warmup failed") }))

	err := engine.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "before start hook failed") {
		t.Fatalf("expected hook error, got %v", err)
	}
	assertSteps(t, srv.snapshot(), "LoadConfig", "SetupDependencies", "Shutdown")
}
