// Package server 进程生命周期：配置 → 依赖装配 → 后台任务 → 主服务 → 优雅关闭
package server

import (
	"context"
	"time"
)

// State 生命周期状态
type State int

const (
	StatePending State = iota
	StateInitializing
	// StatePrepared 依赖已就绪，等待启动
	StatePrepared
	StateRunning
	StateStopping
	StateStopped
	// StateError 发生不可恢复的错误
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInitializing:
		return "Initializing"
	case StatePrepared:
		return "Prepared"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Hook 生命周期回调，ctx 用于超时控制
type Hook func(ctx context.Context) error

// Options 引擎选项
type Options struct {
	Name            string
	Version         string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration

	OnBeforeStart []Hook
	OnAfterStart  []Hook
	OnBeforeStop  []Hook
	OnAfterStop   []Hook
}

// Option 修改 Options
type Option func(*Options)

// DefaultOptions 默认选项
func DefaultOptions() *Options {
	return &Options{
		Name:            "hayatos",
		Version:         "dev",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

func WithVersion(version string) Option {
	return func(o *Options) { o.Version = version }
}

func WithStartupTimeout(t time.Duration) Option {
	return func(o *Options) {
		if t > 0 {
			o.StartupTimeout = t
		}
	}
}

func WithShutdownTimeout(t time.Duration) Option {
	return func(o *Options) {
		if t > 0 {
			o.ShutdownTimeout = t
		}
	}
}

// WithBeforeStart 后台任务启动前执行
func WithBeforeStart(fn Hook) Option {
	return func(o *Options) { o.OnBeforeStart = append(o.OnBeforeStart, fn) }
}

// WithAfterStart 主服务启动后执行，失败只记录日志
func WithAfterStart(fn Hook) Option {
	return func(o *Options) { o.OnAfterStart = append(o.OnAfterStart, fn) }
}

// WithBeforeStop 收到退出信号后、Shutdown 之前执行
func WithBeforeStop(fn Hook) Option {
	return func(o *Options) { o.OnBeforeStop = append(o.OnBeforeStop, fn) }
}

// WithAfterStop Shutdown 完成后执行
func WithAfterStop(fn Hook) Option {
	return func(o *Options) { o.OnAfterStop = append(o.OnAfterStop, fn) }
}
