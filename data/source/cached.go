package source

import (
	"context"

	"hayatos/cache"
	"hayatos/data/query"
	"hayatos/metrics"
)

// CachedSource 以 Descriptor 指纹为键缓存整页结果，
// 同一指纹的并发未命中只回源一次。只适合内容类只读数据。
type CachedSource struct {
	next  query.Source
	cache *cache.Cache[string, query.Page]
}

var _ query.Source = (*CachedSource)(nil)

// Cached 包装数据源
func Cached(c *cache.Cache[string, query.Page], next query.Source) *CachedSource {
	return &CachedSource{next: next, cache: c}
}

func (s *CachedSource) Execute(ctx context.Context, d *query.Descriptor) (query.Page, error) {
	page, hit, err := s.cache.GetOrLoad(ctx, d.Fingerprint(), func(ctx context.Context) (query.Page, error) {
		return s.next.Execute(ctx, d)
	})
	if err != nil {
		return query.Page{}, err
	}
	metrics.ObserveCache(s.cache.Name(), hit)
	return clonePage(page), nil
}

// Purge 清空缓存，数据更新后调用
func (s *CachedSource) Purge() { s.cache.Clear() }

func clonePage(p query.Page) query.Page {
	rows := make([]query.Row, len(p.Rows))
	for i, r := range p.Rows {
		rows[i] = r.Clone()
	}
	return query.Page{Rows: rows, Total: p.Total}
}
