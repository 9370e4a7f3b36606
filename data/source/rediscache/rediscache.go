// Package rediscache 以 Redis 缓存整页查询结果的数据源装饰器，多实例部署时共享缓存
package rediscache

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"hayatos/data/query"
	"hayatos/logging"
	"hayatos/metrics"
)

// client 依赖的 go-redis 命令子集
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Config 装饰器配置
type Config struct {
	// Name 指标标签与键前缀
	Name   string
	TTL    time.Duration
	Logger logging.Logger
}

// Source Redis 缓存装饰器。
//
// Redis 不可用时直接回源，缓存读写失败只记录日志。
type Source struct {
	cfg    Config
	client client
	next   query.Source
}

var _ query.Source = (*Source)(nil)

type cachedPage struct {
	Rows  []query.Row `json:"rows"`
	Total int64       `json:"total"`
}

// New 创建装饰器，TTL 默认 5 分钟
func New(rdb redis.UniversalClient, cfg Config, next query.Source) *Source {
	return newSource(rdb, cfg, next)
}

func newSource(cl client, cfg Config, next query.Source) *Source {
	if cfg.Name == "" {
		cfg.Name = "query"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("source.rediscache")
	}
	return &Source{cfg: cfg, client: cl, next: next}
}

// Key 缓存键
func (s *Source) Key(d *query.Descriptor) string {
	return "hayatos:query:" + s.cfg.Name + ":" + d.Fingerprint()
}

func (s *Source) Execute(ctx context.Context, d *query.Descriptor) (query.Page, error) {
	key := s.Key(d)
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		page, decodeErr := decodePage(raw)
		if decodeErr == nil {
			metrics.ObserveCache(s.cfg.Name, true)
			return page, nil
		}
		s.cfg.Logger.Warn(ctx, "discard undecodable cache entry", logging.String("key", key), logging.Error(decodeErr))
	case !stdErrors.Is(err, redis.Nil):
		s.cfg.Logger.Warn(ctx, "redis cache read failed", logging.String("key", key), logging.Error(err))
	}
	metrics.ObserveCache(s.cfg.Name, false)

	page, err := s.next.Execute(ctx, d)
	if err != nil {
		return query.Page{}, err
	}
	encoded, err := json.Marshal(cachedPage{Rows: page.Rows, Total: page.Total})
	if err == nil {
		err = s.client.Set(ctx, key, encoded, s.cfg.TTL).Err()
	}
	if err != nil {
		s.cfg.Logger.Warn(ctx, "redis cache write failed", logging.String("key", key), logging.Error(err))
	}
	return page, nil
}

// decodePage 保留数字原样（json.Number），避免整数 id 变为浮点
func decodePage(raw []byte) (query.Page, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var cp cachedPage
	if err := dec.Decode(&cp); err != nil {
		return query.Page{}, err
	}
	if cp.Rows == nil {
		cp.Rows = []query.Row{}
	}
	return query.Page{Rows: cp.Rows, Total: cp.Total}, nil
}
