package faith

import (
	"context"

	"hayatos/data/query"
	"hayatos/domain"
	"hayatos/logging"
	"hayatos/validation"
)

const (
	ParamQ         = "q"
	ParamCategory  = "category"
	ParamTimeOfDay = "time_of_day"

	typesAll = "all"
)

// Config 服务配置
type Config struct {
	DefaultLimit int
	MaxLimit     int
	// AllowPartial 某个来源失败时仍返回其余来源的结果
	AllowPartial bool
	Logger       logging.Logger
}

// Service faith 查询服务，无状态，可并发使用
type Service struct {
	sources    Sources
	aggregator *query.Aggregator
	search     *domain.ListEndpoint
	azkar      *domain.ListEndpoint
	logger     logging.Logger
}

// NewService 创建服务
func NewService(sources Sources, cfg Config) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = query.DefaultMaxLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("faith")
	}

	types := []string{typesAll}
	for _, id := range SearchOrder {
		types = append(types, string(id))
	}

	return &Service{
		sources: sources,
		aggregator: query.NewAggregator(query.AggregatorConfig{
			AllowPartial: cfg.AllowPartial,
			Logger:       cfg.Logger,
		}),
		search: &domain.ListEndpoint{
			Schema: validation.NewSchema(append(query.PaginationFields(cfg.DefaultLimit),
				validation.String(ParamQ, validation.Required(), validation.MinLen(2), validation.MaxLen(100)),
				validation.List(query.ParamSources, validation.OneOf(types...), validation.MaxLen(len(types))),
			)...),
			Compiler: query.NewCompiler(query.WithMaxLimit(cfg.MaxLimit)),
		},
		azkar: &domain.ListEndpoint{
			Schema: validation.NewSchema(append(query.PaginationFields(cfg.DefaultLimit),
				validation.String(ParamCategory, validation.MaxLen(50)),
				validation.String(ParamTimeOfDay, validation.OneOf("morning", "evening", "any", typesAll)),
				validation.String(ParamQ, validation.MaxLen(100)),
			)...),
			Builder: query.NewBuilder(
				query.EqualsOn(ParamCategory, "category"),
				query.EqualsOn(ParamTimeOfDay, "time_of_day").Unless(typesAll),
				query.SearchOn(ParamQ, "title", "translation"),
			),
			Compiler: query.NewCompiler(
				query.WithMaxLimit(cfg.MaxLimit),
				query.WithSortable("id", "title", "category", "time_of_day", "repeat_count"),
				query.WithDefaultSort(query.Asc("category")),
			),
		},
		logger: cfg.Logger,
	}
}

// SearchRequest 跨源搜索请求
type SearchRequest struct {
	Term    string
	Sources []query.SourceID
	Page    int
	Limit   int
}

// SearchRequestFrom 由校验后的参数构造请求，types 缺省或含 all 时搜索全部来源
func SearchRequestFrom(v validation.Values) (SearchRequest, error) {
	in, err := query.IntentFrom(v, nil)
	if err != nil {
		return SearchRequest{}, err
	}
	req := SearchRequest{Term: v.String(ParamQ), Page: in.Page, Limit: in.Limit}
	for _, id := range in.Sources {
		if id == typesAll {
			req.Sources = nil
			break
		}
		req.Sources = append(req.Sources, id)
	}
	return req, nil
}

// Search 在选定来源上做子串搜索，结果按来源、id 排序后统一分页，
// Total 为各来源命中数之和
func (s *Service) Search(ctx context.Context, req SearchRequest) (*query.AggregateResult, error) {
	selected := s.selected(req.Sources)
	queries := make([]query.SourceQuery, 0, len(selected))
	var window query.Window
	for _, id := range selected {
		d, err := s.search.Compiler.Compile(query.Intent{
			Filters: []query.Predicate{query.Contains(req.Term, searchFields[id]...)},
			Page:    req.Page,
			Limit:   req.Limit,
		})
		if err != nil {
			return nil, err
		}
		window = d.Window()
		queries = append(queries, query.SourceQuery{ID: id, Source: s.sources.byID(id), Descriptor: d})
	}
	return s.aggregator.Aggregate(ctx, window, queries...)
}

// Azkar 单源列表查询
func (s *Service) Azkar(ctx context.Context, d *query.Descriptor) (*query.PagedResult[query.Row], error) {
	return query.Execute(ctx, SourceAzkar, s.sources.Azkar, d)
}

// selected 按固定顺序去重
func (s *Service) selected(ids []query.SourceID) []query.SourceID {
	if len(ids) == 0 {
		return SearchOrder
	}
	want := make(map[query.SourceID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]query.SourceID, 0, len(ids))
	for _, id := range SearchOrder {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}
