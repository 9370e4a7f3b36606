// Package memory 基于内存队列的任务传输，单机部署与测试使用。
// 进程退出后未处理的消息会丢失。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hayatos/logging"
	"hayatos/messaging"
)

// Config 内存传输配置
type Config struct {
	QueueSize int
	Workers   int
	Policy    messaging.DeliveryPolicy
	Logger    logging.Logger
}

// Transport 内存传输实现
type Transport struct {
	cfg      Config
	handlers map[string]messaging.IMessageHandler
	queue    chan *messaging.Message
	stop     chan struct{}
	timers   map[*time.Timer]struct{}
	dead     []*messaging.Message
	running  bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

var _ messaging.Transport = (*Transport)(nil)

// New 创建内存传输，QueueSize 默认 1000，Workers 默认 4
func New(cfg Config) *Transport {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	cfg.Policy = cfg.Policy.Normalize()
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("messaging.memory")
	}
	return &Transport{
		cfg:      cfg,
		handlers: make(map[string]messaging.IMessageHandler),
		queue:    make(chan *messaging.Message, cfg.QueueSize),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Subscribe 注册处理器，同一类型重复注册返回错误
func (t *Transport) Subscribe(msgType string, handler messaging.IMessageHandler) error {
	if msgType == "" || handler == nil {
		return fmt.Errorf("memory transport: message type and handler are required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[msgType]; ok {
		return fmt.Errorf("memory transport: handler for %q already registered", msgType)
	}
	t.handlers[msgType] = handler
	return nil
}

// Publish 入队，队列满时立即返回错误
func (t *Transport) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg == nil {
		return fmt.Errorf("memory transport: nil message")
	}
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	if !running {
		return fmt.Errorf("memory transport is not running")
	}

	select {
	case t.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("memory transport: queue is full")
	}
}

// Start 启动 worker
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("memory transport is already running")
	}
	t.running = true
	t.stop = make(chan struct{})
	for i := 0; i < t.cfg.Workers; i++ {
		t.wg.Add(1)
		go t.worker(ctx, t.stop)
	}
	return nil
}

// Close 停止 worker，已入队的消息处理完后返回，等待中的重投被丢弃
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return fmt.Errorf("memory transport is not running")
	}
	t.running = false
	close(t.stop)
	for timer := range t.timers {
		if timer.Stop() {
			t.wg.Done()
		}
		delete(t.timers, timer)
	}
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// Stats 统计信息
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]string, 0, len(t.handlers))
	for k := range t.handlers {
		types = append(types, k)
	}
	sort.Strings(types)
	return messaging.TransportStats{
		Running:      t.running,
		MessageTypes: types,
		QueueDepth:   len(t.queue),
		Workers:      t.cfg.Workers,
	}
}

// DeadLetters 返回进入死信的消息
func (t *Transport) DeadLetters() []*messaging.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*messaging.Message, len(t.dead))
	copy(out, t.dead)
	return out
}

func (t *Transport) worker(ctx context.Context, stop <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case msg := <-t.queue:
			t.dispatch(ctx, msg)
		case <-stop:
			t.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) drain(ctx context.Context) {
	for {
		select {
		case msg := <-t.queue:
			t.dispatch(ctx, msg)
		default:
			return
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, msg *messaging.Message) {
	t.mu.RLock()
	h, ok := t.handlers[msg.Type]
	t.mu.RUnlock()

	msg.Attempt++
	if !ok {
		t.cfg.Logger.Error(ctx, "no handler for message type",
			logging.String("message_id", msg.ID), logging.String("type", msg.Type))
		t.deadLetter(msg)
		return
	}

	switch messaging.Deliver(ctx, h, msg, t.cfg.Policy, t.cfg.Logger) {
	case messaging.Retry:
		t.scheduleRetry(msg)
	case messaging.Dead:
		t.deadLetter(msg)
	}
}

func (t *Transport) deadLetter(msg *messaging.Message) {
	t.mu.Lock()
	t.dead = append(t.dead, msg)
	t.mu.Unlock()
}

func (t *Transport) scheduleRetry(msg *messaging.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	stop := t.stop
	t.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(t.cfg.Policy.RetryDelay, func() {
		defer t.wg.Done()
		t.mu.Lock()
		delete(t.timers, timer)
		t.mu.Unlock()
		select {
		case t.queue <- msg:
		case <-stop:
		}
	})
	t.timers[timer] = struct{}{}
}
