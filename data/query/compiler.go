package query

import (
	"fmt"

	"hayatos/errors"
	"hayatos/validation"
)

const (
	DefaultMaxLimit   = 100
	DefaultTieBreaker = "id"
)

// Compiler 将 Intent 编译为 Descriptor，创建后只读，可并发使用
type Compiler struct {
	maxLimit    int
	tieBreaker  string
	sortable    map[string]bool
	filterable  map[string]bool
	defaultSort []SortKey
}

// CompilerOption 编译器选项
type CompilerOption func(*Compiler)

// WithMaxLimit 单页最大行数
func WithMaxLimit(n int) CompilerOption {
	return func(c *Compiler) { c.maxLimit = n }
}

// WithTieBreaker 追加在排序末尾的唯一键，空字符串表示不追加
func WithTieBreaker(field string) CompilerOption {
	return func(c *Compiler) { c.tieBreaker = field }
}

// WithSortable 允许客户端排序的字段
func WithSortable(fields ...string) CompilerOption {
	return func(c *Compiler) {
		for _, f := range fields {
			c.sortable[f] = true
		}
	}
}

// WithFilterable 允许出现在谓词中的字段，未设置时只检查标识符合法性
func WithFilterable(fields ...string) CompilerOption {
	return func(c *Compiler) {
		if c.filterable == nil {
			c.filterable = make(map[string]bool, len(fields))
		}
		for _, f := range fields {
			c.filterable[f] = true
		}
	}
}

// WithDefaultSort 客户端未指定排序时使用
func WithDefaultSort(keys ...SortKey) CompilerOption {
	return func(c *Compiler) { c.defaultSort = append([]SortKey(nil), keys...) }
}

// NewCompiler 创建编译器
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		maxLimit:   DefaultMaxLimit,
		tieBreaker: DefaultTieBreaker,
		sortable:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxLimit 返回单页上限
func (c *Compiler) MaxLimit() int { return c.maxLimit }

// Compile 生成 Descriptor：offset = (page-1)*limit，排序键末尾追加 tie-breaker。
//
// page < 1、limit < 1 或 limit 超过上限时返回 INVALID_PAGINATION，不做截断；
// 非法排序字段或谓词返回 VALIDATION_ERROR。
func (c *Compiler) Compile(in Intent) (*Descriptor, error) {
	if err := validation.ValidatePageParams(in.Page, in.Limit, c.maxLimit); err != nil {
		return nil, err
	}

	var fieldErrs []errors.FieldError
	preds := make([]Predicate, 0, len(in.Filters))
	for _, p := range in.Filters {
		if fe := c.checkPredicate(p); fe != nil {
			fieldErrs = append(fieldErrs, *fe)
			continue
		}
		preds = append(preds, p.clone())
	}

	order, fe := c.order(in.Sort)
	if fe != nil {
		fieldErrs = append(fieldErrs, *fe)
	}
	if len(fieldErrs) > 0 {
		return nil, errors.NewValidationErrors(fieldErrs)
	}

	return &Descriptor{
		Predicates: preds,
		Order:      order,
		Offset:     (in.Page - 1) * in.Limit,
		Limit:      in.Limit,
	}, nil
}

func (c *Compiler) order(requested []SortKey) ([]SortKey, *errors.FieldError) {
	keys := requested
	if len(keys) == 0 {
		keys = c.defaultSort
	}

	order := make([]SortKey, 0, len(keys)+1)
	seen := make(map[string]bool, len(keys)+1)
	for _, k := range keys {
		if !IsSafeField(k.Field) || (len(requested) > 0 && len(c.sortable) > 0 && !c.sortable[k.Field] && k.Field != c.tieBreaker) {
			return nil, &errors.FieldError{
				Field:   ParamSort,
				Rule:    "one_of",
				Message: fmt.Sprintf("cannot sort by %q", k.Field),
			}
		}
		if seen[k.Field] {
			continue
		}
		seen[k.Field] = true
		order = append(order, k)
	}
	if c.tieBreaker != "" && !seen[c.tieBreaker] {
		order = append(order, Asc(c.tieBreaker))
	}
	return order, nil
}

func (c *Compiler) checkPredicate(p Predicate) *errors.FieldError {
	bad := func(field, msg string) *errors.FieldError {
		if field == "" {
			field = "filters"
		}
		return &errors.FieldError{Field: field, Rule: "predicate", Message: msg}
	}

	for _, f := range p.Targets() {
		if !IsSafeField(f) {
			return bad("filters", fmt.Sprintf("invalid field name %q", f))
		}
		if c.filterable != nil && !c.filterable[f] {
			return bad(f, "field is not filterable")
		}
	}

	switch p.Kind {
	case KindEquals:
		if p.Value == nil {
			return bad(p.Field, "equals requires a value")
		}
	case KindRange:
		if p.Lower == nil && p.Upper == nil {
			return bad(p.Field, "range requires at least one bound")
		}
		if p.Lower != nil && p.Upper != nil && Compare(p.Lower, p.Upper) > 0 {
			return bad(p.Field, "range lower bound exceeds upper bound")
		}
	case KindSubstring:
		term, ok := p.Value.(string)
		if !ok || term == "" || len(p.Fields) == 0 {
			return bad(p.Field, "substring requires a term and at least one field")
		}
	case KindIn:
		if len(p.Values) == 0 {
			return bad(p.Field, "in requires at least one value")
		}
	default:
		return bad(p.Field, fmt.Sprintf("unknown predicate kind %q", p.Kind))
	}
	return nil
}
