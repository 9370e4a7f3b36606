// Package messaging 持久化任务队列抽象：至少一次投递，处理成功才确认
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message 任务消息
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Attempt 本次投递序号（从 1 开始），由传输层在投递时设置，不参与序列化
	Attempt int `json:"-"`
}

// NewMessage 以 JSON 编码 payload 创建消息
func NewMessage(msgType string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
		Metadata:  map[string]string{},
	}, nil
}

// Decode 解码 payload，失败视为不可重试
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return Permanent(fmt.Errorf("messaging: decode %s payload: %w", m.Type, err))
	}
	return nil
}

// WithMetadata 设置元数据并返回自身
func (m *Message) WithMetadata(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[key] = value
	return m
}

// Marshal 线上编码
func (m *Message) Marshal() ([]byte, error) { return json.Marshal(m) }

// Unmarshal 线上解码
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	return &m, nil
}
