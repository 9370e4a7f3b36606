// Package cache 进程内 LRU + TTL 缓存，用于缓存只读查询结果
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称（日志与指标标签）
	Name string
	// MaxSize 最大条目数，0 表示不限
	MaxSize int
	// TTL 自写入起的存活时间，0 表示不过期
	TTL time.Duration
	// OnEvict 条目被驱逐、过期或删除时回调（持锁调用，不可重入缓存）
	OnEvict func(key, value any)
}

// Stats 统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	elem      *list.Element
}

// Cache 并发安全的泛型缓存，超出容量时淘汰最久未使用的条目
type Cache[K comparable, V any] struct {
	cfg   Config
	now   func() time.Time
	mu    sync.Mutex
	items map[K]*entry[K, V]
	lru   *list.List
	stats Stats
	group singleflight.Group
}

// New 创建缓存
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	return &Cache[K, V]{
		cfg:   cfg,
		now:   time.Now,
		items: make(map[K]*entry[K, V]),
		lru:   list.New(),
	}
}

// Name 缓存名称
func (c *Cache[K, V]) Name() string { return c.cfg.Name }

// Get 读取未过期的值
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if c.expired(e) {
		c.remove(e)
		c.stats.Misses++
		c.stats.Expires++
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	c.stats.Hits++
	return e.value, true
}

// Set 写入值并重置过期时间
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.cfg.TTL > 0 {
		expiresAt = c.now().Add(c.cfg.TTL)
	}
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.elem)
		return
	}
	if c.cfg.MaxSize > 0 && len(c.items) >= c.cfg.MaxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest.Value.(*entry[K, V]))
			c.stats.Evictions++
		}
	}
	e := &entry[K, V]{key: key, value: value, expiresAt: expiresAt}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
}

// GetOrLoad 命中直接返回；未命中时调用 load 并写入缓存。
// 同一 key 的并发加载只执行一次，load 出错时不缓存。
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	res, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if ok {
		c.remove(e)
	}
	return ok
}

// Clear 清空缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.items {
		c.remove(e)
	}
}

// CleanExpired 清理过期条目，返回清理数量
func (c *Cache[K, V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cleaned := 0
	for _, e := range c.items {
		if c.expired(e) {
			c.remove(e)
			cleaned++
		}
	}
	c.stats.Expires += int64(cleaned)
	return cleaned
}

// Stats 统计快照
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// HitRate 命中率
func (c *Cache[K, V]) HitRate() float64 {
	s := c.Stats()
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d hits=%d misses=%d evictions=%d expires=%d",
		c.cfg.Name, s.Size, c.cfg.MaxSize, s.Hits, s.Misses, s.Evictions, s.Expires)
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

// remove 需持锁调用
func (c *Cache[K, V]) remove(e *entry[K, V]) {
	if c.cfg.OnEvict != nil {
		c.cfg.OnEvict(e.key, e.value)
	}
	c.lru.Remove(e.elem)
	delete(c.items, e.key)
}
