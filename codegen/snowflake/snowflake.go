// Package snowflake 生成按时间递增的 int64 ID。
//
// 位布局：41 位毫秒时间戳 | 10 位节点号 | 12 位序列号。
// ID 单调递增，既作主键，也作分页排序的 tie-breaker。
package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// epoch 2024-01-01 00:00:00 UTC
	epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	MaxNode     = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits

	// maxBackwardDrift 时钟回拨在该范围内时等待追上，超过则报错
	maxBackwardDrift = 10 * time.Millisecond
)

// ErrClockBackwards 时钟回拨超出容忍范围
var ErrClockBackwards = errors.New("snowflake: clock moved backwards")

// IDGenerator 业务侧依赖的 ID 生成接口
type IDGenerator interface {
	NextID() (int64, error)
}

// Generator 并发安全的 ID 生成器
type Generator struct {
	mu       sync.Mutex
	node     int64
	sequence int64
	lastMS   int64
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewGenerator 创建生成器，node 取值 [0, MaxNode]
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("snowflake: node %d out of range [0, %d]", node, MaxNode)
	}
	return &Generator{node: node, lastMS: -1, now: time.Now, sleep: time.Sleep}, nil
}

// MustGenerator node 非法时 panic
func MustGenerator(node int64) *Generator {
	g, err := NewGenerator(node)
	if err != nil {
		panic(err)
	}
	return g
}

// NextID 生成下一个 ID
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMS {
		drift := time.Duration(g.lastMS-ms) * time.Millisecond
		if drift > maxBackwardDrift {
			return 0, fmt.Errorf("%w by %s", ErrClockBackwards, drift)
		}
		g.sleep(drift)
		ms = g.lastMS
	}

	if ms == g.lastMS {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 本毫秒序列号用尽
			for ms <= g.lastMS {
				g.sleep(100 * time.Microsecond)
				ms = g.now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMS = ms

	return (ms-epoch)<<timeShift | g.node<<nodeShift | g.sequence, nil
}

// ID 解析后的 ID
type ID struct {
	Time     time.Time
	Node     int64
	Sequence int64
}

// Parse 拆解 ID
func Parse(id int64) ID {
	return ID{
		Time:     time.UnixMilli((id >> timeShift) + epoch).UTC(),
		Node:     (id >> nodeShift) & MaxNode,
		Sequence: id & maxSequence,
	}
}
