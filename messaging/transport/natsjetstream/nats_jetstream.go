// Package natsjetstream 基于 NATS JetStream 工作队列的任务传输。
//
// 手动确认：处理成功 Ack，失败 NakWithDelay 等待重投，
// 达到 MaxDeliver 或不可重试时 Term。
package natsjetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"hayatos/logging"
	"hayatos/messaging"
)

// Config JetStream 传输配置
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int
	Policy        messaging.DeliveryPolicy
	Logger        logging.Logger
	Conn          *nats.Conn

	// Retention workqueue|limits|interest，默认 workqueue
	Retention string
	Replicas  int
}

// acker *nats.Msg 的确认操作子集
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// Transport JetStream 上的 messaging.Transport 实现
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	handlers map[string]messaging.IMessageHandler
	subs     map[string]*nats.Subscription

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport 创建传输，连接在 Start 时建立
func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "HAYATOS_JOBS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "hayatos.jobs."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "hayatos-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1024
	}
	cfg.Policy = cfg.Policy.Normalize()
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("messaging.natsjetstream")
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string]messaging.IMessageHandler),
		subs:     make(map[string]*nats.Subscription),
		ctx:      context.Background(),
	}
}

// Publish 发布到 JetStream，等待服务端确认落盘
func (t *Transport) Publish(ctx context.Context, msg *messaging.Message) error {
	t.mu.RLock()
	js := t.js
	running := t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return errors.New("natsjetstream: transport not running")
	}
	data, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	_, err = js.Publish(t.subjectName(msg.Type), data, nats.Context(ctx), nats.MsgId(msg.ID))
	return err
}

// Subscribe 注册处理器，运行中注册会立即创建消费者
func (t *Transport) Subscribe(msgType string, handler messaging.IMessageHandler) error {
	if msgType == "" || handler == nil {
		return errors.New("natsjetstream: message type and handler are required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[msgType]; ok {
		return fmt.Errorf("natsjetstream: handler for %q already registered", msgType)
	}
	t.handlers[msgType] = handler
	if t.running {
		return t.subscribeLocked(msgType)
	}
	return nil
}

// Start 建立连接、确保流存在并为已注册类型创建持久消费者
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("natsjetstream: transport already running")
	}
	if err := t.ensureConnection(); err != nil {
		return err
	}
	if err := t.ensureStream(); err != nil {
		return err
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	for mt := range t.handlers {
		if err := t.subscribeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

// Close 排空订阅，自建的连接一并关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.running = false
		for mt, sub := range t.subs {
			_ = sub.Drain()
			delete(t.subs, mt)
		}
		t.cancel()
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.js = nil
	return nil
}

// Stats 统计信息
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]string, 0, len(t.handlers))
	for mt := range t.handlers {
		types = append(types, mt)
	}
	sort.Strings(types)
	return messaging.TransportStats{Running: t.running, MessageTypes: types}
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("hayatos"))
		if err != nil {
			return err
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	_, err = t.js.AddStream(streamConfig(t.cfg))
	return err
}

func streamConfig(cfg Config) *nats.StreamConfig {
	retention := nats.WorkQueuePolicy
	switch strings.ToLower(cfg.Retention) {
	case "limits":
		retention = nats.LimitsPolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	sc := &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ">"},
		Retention: retention,
	}
	if cfg.Replicas > 0 {
		sc.Replicas = cfg.Replicas
	}
	return sc
}

func (t *Transport) subscribeLocked(msgType string) error {
	if _, exists := t.subs[msgType]; exists {
		return nil
	}
	durable := t.cfg.DurablePrefix + strings.ReplaceAll(msgType, ".", "-")
	sub, err := t.js.QueueSubscribe(t.subjectName(msgType), durable, t.onMessage(msgType),
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxDeliver(t.cfg.Policy.MaxDeliver),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return err
	}
	t.subs[msgType] = sub
	return nil
}

func (t *Transport) onMessage(msgType string) nats.MsgHandler {
	return func(m *nats.Msg) {
		delivered := uint64(1)
		if meta, err := m.Metadata(); err == nil {
			delivered = meta.NumDelivered
		}
		t.mu.RLock()
		ctx := t.ctx
		t.mu.RUnlock()
		t.handle(ctx, msgType, m.Data, delivered, m)
	}
}

func (t *Transport) handle(ctx context.Context, msgType string, data []byte, delivered uint64, ack acker) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		t.logger.Error(ctx, "decode jetstream message failed", logging.String("type", msgType), logging.Error(err))
		t.settle(ctx, ack.Term)
		return
	}
	if msg.Type == "" {
		msg.Type = msgType
	}
	msg.Attempt = int(delivered)

	t.mu.RLock()
	h, ok := t.handlers[msgType]
	t.mu.RUnlock()
	if !ok {
		t.settle(ctx, ack.Term)
		return
	}

	switch messaging.Deliver(ctx, h, msg, t.cfg.Policy, t.logger) {
	case messaging.Ack:
		t.settle(ctx, ack.Ack)
	case messaging.Retry:
		t.settle(ctx, func(opts ...nats.AckOpt) error { return ack.NakWithDelay(t.cfg.Policy.RetryDelay, opts...) })
	case messaging.Dead:
		t.settle(ctx, ack.Term)
	}
}

func (t *Transport) settle(ctx context.Context, fn func(opts ...nats.AckOpt) error) {
	if err := fn(); err != nil {
		t.logger.Warn(ctx, "jetstream ack failed", logging.Error(err))
	}
}

func (t *Transport) subjectName(msgType string) string {
	return t.cfg.SubjectPrefix + msgType
}

type wireMessage struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp int64             `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
}

func marshalMessage(msg *messaging.Message) ([]byte, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(wireMessage{
		ID:        msg.ID,
		Type:      msg.Type,
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  msg.Metadata,
	})
}

func unmarshalMessage(data []byte) (*messaging.Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if wire.Metadata == nil {
		wire.Metadata = make(map[string]string)
	}
	return &messaging.Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: time.Unix(0, wire.Timestamp),
		Payload:   wire.Payload,
		Metadata:  wire.Metadata,
	}, nil
}
