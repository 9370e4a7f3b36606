package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache[K comparable, V any](cfg Config) (*Cache[K, V], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := New[K, V](cfg)
	c.now = clock.now
	return c, clock
}

func TestCache_BasicOperations(t *testing.T) {
	c, _ := newTestCache[string, int](Config{Name: "test", MaxSize: 10})

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	s := c.Stats()
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
	assert.Equal(t, 0, s.Size)
}

func TestCache_LRUEviction(t *testing.T) {
	var evicted []any
	c, _ := newTestCache[string, int](Config{
		MaxSize: 2,
		OnEvict: func(k, _ any) { evicted = append(evicted, k) },
	})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a 变为最近使用
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []any{"b"}, evicted)
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCache_TTLFromWrite(t *testing.T) {
	c, clock := newTestCache[string, string](Config{TTL: time.Minute})

	c.Set("k", "v")
	clock.advance(30 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	// 读取不会续期
	clock.advance(30 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Stats().Expires)

	c.Set("x", "1")
	c.Set("y", "2")
	clock.advance(2 * time.Minute)
	assert.Equal(t, 2, c.CleanExpired())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCache_GetOrLoad(t *testing.T) {
	c, _ := newTestCache[string, int](Config{MaxSize: 10})
	var loads atomic.Int32
	load := func(context.Context) (int, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrLoad(context.Background(), "answer", load)
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, loads.Load(), int32(8))

	before := loads.Load()
	v, hit, err := c.GetOrLoad(context.Background(), "answer", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42, v)
	assert.Equal(t, before, loads.Load())
}

func TestCache_GetOrLoadErrorNotCached(t *testing.T) {
	c, _ := newTestCache[string, int](Config{})
	boom := errors.New("boom")

	_, _, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache[int, int](Config{})
	for i := 0; i < 5; i++ {
		c.Set(i, i)
	}
	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
	assert.Contains(t, c.String(), "size=0")
}
