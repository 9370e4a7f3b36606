package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"hayatos/logging"
)

// IServer 应用需要实现的生命周期步骤，由 Engine 按固定顺序调用
type IServer interface {
	Name() string

	// LoadConfig 解析配置文件、环境变量与命令行参数
	LoadConfig() error

	// SetupDependencies 建立连接、执行迁移、装配服务与路由
	SetupDependencies(ctx context.Context) error

	// StartBackgroundTasks 启动队列消费者与定时任务，不阻塞
	StartBackgroundTasks(ctx context.Context) error

	// Run 主服务，阻塞直到退出；ctx 在收到退出信号时取消
	Run(ctx context.Context) error

	// Shutdown 按启动的逆序释放资源
	Shutdown(ctx context.Context) error
}

// Engine 编排启动流程：
// LoadConfig → SetupDependencies → StartBackgroundTasks → Run → 等待信号 → Shutdown
type Engine struct {
	server  IServer
	options *Options

	mu    sync.RWMutex
	state State
}

// NewEngine 创建引擎，server.Name() 非空时作为默认名称
func NewEngine(server IServer, opts ...Option) *Engine {
	options := DefaultOptions()
	if name := server.Name(); name != "" {
		options.Name = name
	}
	for _, o := range opts {
		o(options)
	}
	return &Engine{server: server, options: options, state: StatePending}
}

// State 当前状态
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) logger() logging.Logger {
	return logging.ComponentLogger("server").WithFields(logging.String("service", e.options.Name))
}

// Start 以 SIGINT/SIGTERM 为退出信号运行
func (e *Engine) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return e.Run(ctx)
}

// Run 运行到 ctx 取消或主服务退出，然后执行关闭流程
func (e *Engine) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	e.setState(StateInitializing)
	if err := e.server.LoadConfig(); err != nil {
		e.setState(StateError)
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := e.logger()
	log.Info(ctx, "starting", logging.String("version", e.options.Version))

	setupCtx, setupCancel := context.WithTimeout(ctx, e.options.StartupTimeout)
	defer setupCancel()
	if err := e.server.SetupDependencies(setupCtx); err != nil {
		e.setState(StateError)
		e.shutdown(log)
		return fmt.Errorf("failed to setup dependencies: %w", err)
	}
	e.setState(StatePrepared)

	for _, hook := range e.options.OnBeforeStart {
		if err := hook(ctx); err != nil {
			e.setState(StateError)
			e.shutdown(log)
			return fmt.Errorf("before start hook failed: %w", err)
		}
	}

	if err := e.server.StartBackgroundTasks(ctx); err != nil {
		e.setState(StateError)
		e.shutdown(log)
		return fmt.Errorf("failed to start background tasks: %w", err)
	}

	e.setState(StateRunning)
	errCh := make(chan error, 1)
	go func() { errCh <- e.server.Run(ctx) }()

	for _, hook := range e.options.OnAfterStart {
		if err := hook(ctx); err != nil {
			log.Warn(ctx, "after start hook failed", logging.Error(err))
		}
	}

	var runErr error
	select {
	case runErr = <-errCh:
		if runErr != nil {
			log.Error(ctx, "server stopped with error", logging.Error(runErr))
		} else {
			log.Info(ctx, "server stopped")
		}
	case <-ctx.Done():
		log.Info(context.Background(), "shutdown signal received")
	}
	cancel()

	e.setState(StateStopping)
	if err := e.shutdown(log); err != nil {
		e.setState(StateError)
		return err
	}
	if runErr != nil {
		e.setState(StateError)
		return fmt.Errorf("server execution error: %w", runErr)
	}
	e.setState(StateStopped)
	log.Info(context.Background(), "shutdown complete")
	return nil
}

func (e *Engine) shutdown(log logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.options.ShutdownTimeout)
	defer cancel()

	for _, hook := range e.options.OnBeforeStop {
		if err := hook(ctx); err != nil {
			log.Warn(ctx, "before stop hook failed", logging.Error(err))
		}
	}
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error(ctx, "shutdown error", logging.Error(err))
		return err
	}
	for _, hook := range e.options.OnAfterStop {
		if err := hook(ctx); err != nil {
			log.Warn(ctx, "after stop hook failed", logging.Error(err))
		}
	}
	return nil
}
