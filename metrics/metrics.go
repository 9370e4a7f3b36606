// Package metrics Prometheus 指标定义
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestTotal HTTP 请求计数
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hayatos_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	// RequestDuration HTTP 请求耗时
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hayatos_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	// QueryDuration 数据源查询耗时
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hayatos_source_query_duration_seconds",
			Help:    "Source query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"source"},
	)
	// SourceErrors 数据源失败计数
	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hayatos_source_errors_total",
			Help: "Total number of failed source queries",
		},
		[]string{"source"},
	)
	// CacheLookups 查询缓存命中/未命中
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hayatos_query_cache_lookups_total",
			Help: "Query cache lookups by result",
		},
		[]string{"cache", "result"},
	)
	// JobsTotal 后台任务处理结果
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hayatos_jobs_total",
			Help: "Background jobs processed by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

// ObserveCache 记录一次缓存查找
func ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
