// Package retry 指数退避重试，用于启动阶段等待数据库、Redis 等外部依赖就绪
package retry

import (
	"context"
	stdErrors "errors"
	"time"
)

// Config 重试配置
type Config struct {
	MaxAttempts  int           `mapstructure:"attempts"` // 包括首次
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// DefaultConfig 5 次尝试，500ms 起步，每次翻倍，上限 5s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Second,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// Delay 第 attempt 次失败后的等待时间
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalize()
	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.Multiplier
		if delay >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return time.Duration(delay)
}

// Operation attempt 从 1 开始
type Operation func(ctx context.Context, attempt int) error

type stopError struct{ err error }

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop 包装不值得重试的错误，Do 立即返回原错误
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do 执行 op 直到成功、返回 Stop 错误、次数用尽或 ctx 结束，返回最后一次的错误
func Do(ctx context.Context, cfg Config, op Operation) error {
	cfg = cfg.normalize()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		var stop *stopError
		if stdErrors.As(err, &stop) {
			return stop.err
		}
		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
	return lastErr
}
