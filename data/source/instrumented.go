package source

import (
	"context"
	"time"

	"hayatos/data/query"
	"hayatos/logging"
	"hayatos/metrics"
)

// InstrumentedSource 记录查询耗时与失败次数
type InstrumentedSource struct {
	name   string
	next   query.Source
	logger logging.Logger
}

var _ query.Source = (*InstrumentedSource)(nil)

// Instrumented 包装数据源，name 作为指标标签
func Instrumented(name string, next query.Source, logger logging.Logger) *InstrumentedSource {
	if logger == nil {
		logger = logging.ComponentLogger("source")
	}
	return &InstrumentedSource{name: name, next: next, logger: logger.WithFields(logging.String("source", name))}
}

func (s *InstrumentedSource) Execute(ctx context.Context, d *query.Descriptor) (query.Page, error) {
	start := time.Now()
	page, err := s.next.Execute(ctx, d)
	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues(s.name).Observe(elapsed.Seconds())
	if err != nil {
		metrics.SourceErrors.WithLabelValues(s.name).Inc()
		s.logger.Warn(ctx, "source query failed", logging.Duration("elapsed", elapsed), logging.Error(err))
		return query.Page{}, err
	}
	s.logger.Debug(ctx, "source query",
		logging.Int("rows", len(page.Rows)),
		logging.Int64("total", page.Total),
		logging.Duration("elapsed", elapsed))
	return page, nil
}
