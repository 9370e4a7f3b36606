package source

import (
	"context"
	"sync"

	"hayatos/data/query"
)

// Memory 内存数据源，测试与固定数据使用
type Memory struct {
	mu   sync.RWMutex
	rows []query.Row
}

var _ query.Source = (*Memory)(nil)

// NewMemory 创建内存数据源，行在写入时复制
func NewMemory(rows ...query.Row) *Memory {
	m := &Memory{}
	m.Replace(rows...)
	return m
}

// Replace 替换全部行
func (m *Memory) Replace(rows ...query.Row) {
	copied := make([]query.Row, len(rows))
	for i, r := range rows {
		copied[i] = r.Clone()
	}
	m.mu.Lock()
	m.rows = copied
	m.mu.Unlock()
}

// Append 追加行
func (m *Memory) Append(rows ...query.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows = append(m.rows, r.Clone())
	}
}

// Len 当前行数
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func (m *Memory) Execute(ctx context.Context, d *query.Descriptor) (query.Page, error) {
	if err := ctx.Err(); err != nil {
		return query.Page{}, err
	}
	m.mu.RLock()
	rows, total := query.Apply(m.rows, d)
	out := make([]query.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	m.mu.RUnlock()
	return query.Page{Rows: out, Total: total}, nil
}
