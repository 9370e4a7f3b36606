package messaging

import (
	"context"
	stdErrors "errors"
)

// IMessageHandler 任务处理器。
//
// 返回 nil 才会确认消息，其他错误触发重新投递。
// 同一消息可能被投递多次，处理器必须幂等。
type IMessageHandler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 标记不可重试的错误，消息直接进入死信
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 是否为不可重试错误
func IsPermanent(err error) bool {
	var p *permanentError
	return stdErrors.As(err, &p)
}
