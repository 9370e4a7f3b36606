package messaging

import (
	"context"
	"fmt"
	"time"

	"hayatos/logging"
	"hayatos/metrics"
)

// Transport 消息传输，每种消息类型只有一个处理器
type Transport interface {
	Publish(ctx context.Context, msg *Message) error
	Subscribe(msgType string, handler IMessageHandler) error
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// Publisher 只需要发布能力的调用方使用
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// TransportStats 传输层统计
type TransportStats struct {
	Running      bool     `json:"running"`
	MessageTypes []string `json:"message_types"`
	QueueDepth   int      `json:"queue_depth,omitempty"`
	Workers      int      `json:"workers,omitempty"`
}

// DeliveryPolicy 重投策略
type DeliveryPolicy struct {
	// MaxDeliver 最大投递次数（含首次），达到后进入死信
	MaxDeliver int `mapstructure:"max_deliver"`
	// RetryDelay 失败后再次投递前的等待时间
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// DefaultDeliveryPolicy 默认 5 次，间隔 5 秒
var DefaultDeliveryPolicy = DeliveryPolicy{MaxDeliver: 5, RetryDelay: 5 * time.Second}

// Normalize 填充缺省值
func (p DeliveryPolicy) Normalize() DeliveryPolicy {
	if p.MaxDeliver <= 0 {
		p.MaxDeliver = DefaultDeliveryPolicy.MaxDeliver
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultDeliveryPolicy.RetryDelay
	}
	return p
}

// Outcome 一次投递的处理结果
type Outcome int

const (
	// Ack 处理成功，确认
	Ack Outcome = iota
	// Retry 处理失败，稍后重投
	Retry
	// Dead 不再重投
	Dead
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "completed"
	case Retry:
		return "retry"
	default:
		return "dead"
	}
}

// Deliver 调用处理器并按策略给出结果，处理器 panic 视为失败。
// 各传输实现共用，保证重投语义一致。
func Deliver(ctx context.Context, h IMessageHandler, msg *Message, policy DeliveryPolicy, logger logging.Logger) (outcome Outcome) {
	fields := []logging.Field{
		logging.String("message_id", msg.ID),
		logging.String("type", msg.Type),
		logging.Int("attempt", msg.Attempt),
	}
	defer func() {
		metrics.JobsTotal.WithLabelValues(msg.Type, outcome.String()).Inc()
	}()

	err := safeHandle(ctx, h, msg)
	switch {
	case err == nil:
		return Ack
	case IsPermanent(err):
		logger.Error(ctx, "message dead-lettered: permanent failure", append(fields, logging.Error(err))...)
		return Dead
	case msg.Attempt >= policy.MaxDeliver:
		logger.Error(ctx, "message dead-lettered: max deliveries reached", append(fields, logging.Error(err))...)
		return Dead
	default:
		logger.Warn(ctx, "message handler failed, will retry", append(fields, logging.Error(err))...)
		return Retry
	}
}

func safeHandle(ctx context.Context, h IMessageHandler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, msg)
}
