package query

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"hayatos/errors"
	"hayatos/logging"
)

// DefaultSourceField 合并结果中标记来源的列名
const DefaultSourceField = "source"

// SourceQuery 一个数据源及其 Descriptor
type SourceQuery struct {
	ID         SourceID
	Source     Source
	Descriptor *Descriptor
}

// AggregatorConfig 聚合器配置
type AggregatorConfig struct {
	// Order 合并后的排序，默认 source 升序、id 升序
	Order []SortKey
	// SourceField 来源标记列名，默认 "source"
	SourceField string
	// AllowPartial 为 true 时失败的数据源被排除并记录，否则整体失败。
	// 请求本身被拒绝（VALIDATION_ERROR、UNAUTHORIZED）时总是整体失败。
	// 排除数据源会改变 Total 的含义，必须显式开启。
	AllowPartial bool
	Logger       logging.Logger
}

// AggregateResult 合并后的分页结果
type AggregateResult struct {
	PagedResult[Row]
	Counts map[SourceID]int64 `json:"counts"`
	Failed []SourceID         `json:"failed,omitempty"`
}

// Aggregator 跨数据源合并查询结果
type Aggregator struct {
	cfg AggregatorConfig
}

// NewAggregator 创建聚合器
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.SourceField == "" {
		cfg.SourceField = DefaultSourceField
	}
	if len(cfg.Order) == 0 {
		cfg.Order = []SortKey{Asc(cfg.SourceField), Asc(DefaultTieBreaker)}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("query.aggregator")
	}
	return &Aggregator{cfg: cfg}
}

type sourceOutcome struct {
	page Page
	err  error
}

// Aggregate 每个数据源以不分页的 Descriptor 并发查询一次，
// 行打上来源标记后合并、按跨源顺序重排，最后统一应用 window。
// Total 为各数据源总数之和。
//
// 调用方取消 ctx 时放弃所有未完成的读取。
func (a *Aggregator) Aggregate(ctx context.Context, window Window, queries ...SourceQuery) (*AggregateResult, error) {
	outcomes := make([]sourceOutcome, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			page, err := run(gctx, q.ID, q.Source, q.Descriptor.Unbounded())
			outcomes[i] = sourceOutcome{page: page, err: err}
			if err != nil && (!a.cfg.AllowPartial || rejectsRequest(err)) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeTimeout, "aggregate cancelled")
	}

	res := &AggregateResult{Counts: make(map[SourceID]int64, len(queries))}
	var (
		merged   []Row
		total    int64
		firstErr error
	)
	for i, q := range queries {
		o := outcomes[i]
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			res.Failed = append(res.Failed, q.ID)
			a.cfg.Logger.Warn(ctx, "source excluded from aggregate",
				logging.String("source", string(q.ID)),
				logging.Error(o.err))
			continue
		}
		for _, r := range o.page.Rows {
			tagged := r.Clone()
			tagged[a.cfg.SourceField] = string(q.ID)
			merged = append(merged, tagged)
		}
		res.Counts[q.ID] += o.page.Total
		total += o.page.Total
	}
	if len(queries) > 0 && len(res.Failed) == len(queries) {
		return nil, firstErr
	}
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i] < res.Failed[j] })

	SortRows(merged, a.cfg.Order)
	res.PagedResult = *NewPagedResult(window.Apply(merged), total, window)
	return res, nil
}
