// Package redisstreams 基于 Redis Streams 消费组的任务传输。
//
// 处理成功后才 XACK；失败的条目留在 PEL 中，由认领循环在 RetryDelay 后
// 通过 XCLAIM 重新投递，投递次数达到 MaxDeliver 后写入死信流并确认。
package redisstreams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hayatos/logging"
	"hayatos/messaging"
)

// client 传输依赖的 go-redis 命令子集
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
	Close() error
}

// Config Redis Streams 传输配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Password     string
	DB           int
	StreamPrefix string
	GroupName    string
	ConsumerName string
	BlockTimeout time.Duration
	ReadCount    int64
	Policy       messaging.DeliveryPolicy
	Logger       logging.Logger

	MinReadBackoff time.Duration
	MaxReadBackoff time.Duration
}

// Transport 基于消费组的 messaging.Transport 实现
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	handlers map[string]messaging.IMessageHandler
	readers  map[string]bool

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport 创建传输，未提供 Client 时按 Addr 自建连接
func NewTransport(cfg Config) (*Transport, error) {
	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redisstreams: redis client or addr required")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newTransport(cfg, cl, own), nil
}

func newTransport(cfg Config, cl client, own bool) *Transport {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "hayatos:jobs:"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "hayatos"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	cfg.Policy = cfg.Policy.Normalize()
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("messaging.redisstreams")
	}
	return &Transport{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger,
		handlers:  make(map[string]messaging.IMessageHandler),
		readers:   make(map[string]bool),
		ctx:       context.Background(),
	}
}

// Publish 追加到消息类型对应的流
func (t *Transport) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg == nil {
		return errors.New("redisstreams: nil message")
	}
	values, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return t.client.XAdd(ctx, &redis.XAddArgs{Stream: t.streamName(msg.Type), Values: values}).Err()
}

// Subscribe 注册处理器，运行中注册会立即启动读取循环
func (t *Transport) Subscribe(msgType string, handler messaging.IMessageHandler) error {
	if msgType == "" || handler == nil {
		return errors.New("redisstreams: message type and handler are required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[msgType]; ok {
		return fmt.Errorf("redisstreams: handler for %q already registered", msgType)
	}
	t.handlers[msgType] = handler
	if t.running {
		t.startReaderLocked(msgType)
	}
	return nil
}

// Start 为每个已注册类型启动读取与认领循环
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("redisstreams: transport already running")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	for mt := range t.handlers {
		t.startReaderLocked(mt)
	}
	return nil
}

// Close 停止后台循环，自建的连接一并关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	running := t.running
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	if running && cancel != nil {
		cancel()
		t.wg.Wait()
	}
	if t.ownClient {
		return t.client.Close()
	}
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

func (t *Transport) startReaderLocked(msgType string) {
	if t.readers[msgType] {
		return
	}
	t.readers[msgType] = true
	stream := t.streamName(msgType)
	if err := t.ensureGroup(t.ctx, stream); err != nil {
		t.logger.Warn(t.ctx, "ensure consumer group failed", logging.String("stream", stream), logging.Error(err))
	}
	t.wg.Add(2)
	go t.readLoop(msgType)
	go t.claimLoop(msgType)
}

func (t *Transport) readLoop(msgType string) {
	defer t.wg.Done()
	ctx := t.ctx
	stream := t.streamName(msgType)
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := t.cfg.MinReadBackoff
	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			t.logger.Warn(ctx, "xreadgroup failed", logging.Duration("backoff", backoff), logging.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, t.cfg.MaxReadBackoff)
			continue
		}
		backoff = t.cfg.MinReadBackoff
		for _, sr := range res {
			for _, entry := range sr.Messages {
				t.process(ctx, msgType, entry, 1)
			}
		}
	}
}

// claimLoop 周期性认领空闲超过 RetryDelay 的未确认条目
func (t *Transport) claimLoop(msgType string) {
	defer t.wg.Done()
	ctx := t.ctx
	ticker := time.NewTicker(t.cfg.Policy.RetryDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.claimPending(ctx, msgType); err != nil && ctx.Err() == nil {
				t.logger.Warn(ctx, "claim pending entries failed", logging.String("type", msgType), logging.Error(err))
			}
		}
	}
}

func (t *Transport) claimPending(ctx context.Context, msgType string) error {
	stream := t.streamName(msgType)
	pending, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  t.cfg.GroupName,
		Idle:   t.cfg.Policy.RetryDelay,
		Start:  "-",
		End:    "+",
		Count:  t.cfg.ReadCount,
	}).Result()
	if err != nil {
		return err
	}
	for _, p := range pending {
		claimed, err := t.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    t.cfg.GroupName,
			Consumer: t.cfg.ConsumerName,
			MinIdle:  t.cfg.Policy.RetryDelay,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return err
		}
		for _, entry := range claimed {
			attempt := int(p.RetryCount) + 1
			if attempt > t.cfg.Policy.MaxDeliver {
				t.logger.Error(ctx, "entry exceeded max deliveries",
					logging.String("stream", stream), logging.String("entry", entry.ID), logging.Int64("deliveries", p.RetryCount))
				t.deadLetter(ctx, stream, entry)
				continue
			}
			t.process(ctx, msgType, entry, attempt)
		}
	}
	return nil
}

func (t *Transport) process(ctx context.Context, msgType string, entry redis.XMessage, attempt int) {
	stream := t.streamName(msgType)
	msg, err := decodeMessage(entry)
	if err != nil {
		t.logger.Error(ctx, "decode stream entry failed", logging.String("entry", entry.ID), logging.Error(err))
		t.deadLetter(ctx, stream, entry)
		return
	}
	msg.Attempt = attempt

	t.mu.RLock()
	h, ok := t.handlers[msgType]
	t.mu.RUnlock()
	if !ok {
		t.deadLetter(ctx, stream, entry)
		return
	}

	switch messaging.Deliver(ctx, h, msg, t.cfg.Policy, t.logger) {
	case messaging.Ack:
		t.ack(ctx, stream, entry.ID)
	case messaging.Dead:
		t.deadLetter(ctx, stream, entry)
	}
}

func (t *Transport) ack(ctx context.Context, stream, id string) {
	if err := t.client.XAck(ctx, stream, t.cfg.GroupName, id).Err(); err != nil {
		t.logger.Warn(ctx, "xack failed", logging.String("entry", id), logging.Error(err))
	}
}

// deadLetter 写入死信流后确认原条目，写入失败时保留在 PEL 中
func (t *Transport) deadLetter(ctx context.Context, stream string, entry redis.XMessage) {
	values := make(map[string]any, len(entry.Values)+1)
	for k, v := range entry.Values {
		values[k] = v
	}
	values["source_entry"] = entry.ID
	if err := t.client.XAdd(ctx, &redis.XAddArgs{Stream: stream + ":dead", Values: values}).Err(); err != nil {
		t.logger.Error(ctx, "write dead letter failed", logging.String("entry", entry.ID), logging.Error(err))
		return
	}
	t.ack(ctx, stream, entry.ID)
}

func (t *Transport) ensureGroup(ctx context.Context, stream string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) streamName(msgType string) string {
	return t.cfg.StreamPrefix + msgType
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func encodeMessage(msg *messaging.Message) (map[string]any, error) {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, err
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := string(msg.Payload)
	if payload == "" {
		payload = "null"
	}
	return map[string]any{
		"id":        msg.ID,
		"type":      msg.Type,
		"timestamp": ts.UnixNano(),
		"payload":   payload,
		"metadata":  string(metadata),
	}, nil
}

func decodeMessage(entry redis.XMessage) (*messaging.Message, error) {
	id, _ := entry.Values["id"].(string)
	msgType, _ := entry.Values["type"].(string)
	payloadRaw, _ := entry.Values["payload"].(string)
	metadataRaw, _ := entry.Values["metadata"].(string)

	if msgType == "" {
		return nil, fmt.Errorf("entry %s has no type", entry.ID)
	}
	if payloadRaw != "" && !json.Valid([]byte(payloadRaw)) {
		return nil, fmt.Errorf("entry %s has invalid payload", entry.ID)
	}
	metadata := make(map[string]string)
	if metadataRaw != "" && metadataRaw != "null" {
		if err := json.Unmarshal([]byte(metadataRaw), &metadata); err != nil {
			return nil, err
		}
	}

	ts := time.Now()
	switch v := entry.Values["timestamp"].(type) {
	case int64:
		ts = time.Unix(0, v)
	case string:
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts = time.Unix(0, ns)
		}
	}
	if id == "" {
		id = entry.ID
	}
	return &messaging.Message{
		ID:        id,
		Type:      msgType,
		Timestamp: ts,
		Payload:   json.RawMessage(payloadRaw),
		Metadata:  metadata,
	}, nil
}
