package query

import (
	"strings"

	"hayatos/errors"
	"hayatos/validation"
)

// 标准分页与排序参数名
const (
	ParamPage    = "page"
	ParamLimit   = "limit"
	ParamSort    = "sort"
	ParamSources = "types"
)

// SourceID 数据源标识
type SourceID string

// SortKey 排序键
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Asc 升序键
func Asc(field string) SortKey { return SortKey{Field: field} }

// Desc 降序键
func Desc(field string) SortKey { return SortKey{Field: field, Desc: true} }

func (k SortKey) String() string {
	if k.Desc {
		return "-" + k.Field
	}
	return k.Field
}

// ParseSort 解析 "field,-other" 形式的排序表达式
func ParseSort(expr string) ([]SortKey, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	parts := strings.Split(expr, ",")
	keys := make([]SortKey, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		key := SortKey{Field: part}
		if strings.HasPrefix(part, "-") {
			key = SortKey{Field: strings.TrimPrefix(part, "-"), Desc: true}
		} else if strings.HasPrefix(part, "+") {
			key.Field = strings.TrimPrefix(part, "+")
		}
		if !IsSafeField(key.Field) {
			return nil, errors.NewFieldError(ParamSort, "format", "must be a comma separated list of fields, prefix '-' for descending")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Intent 校验后的查询意图，构造后不再修改
type Intent struct {
	Filters []Predicate
	Sort    []SortKey
	Page    int
	Limit   int
	Sources []SourceID
}

// PaginationFields 标准分页/排序参数声明。
// 不声明上限：越界由 Compiler 以 INVALID_PAGINATION 拒绝，而不是截断。
func PaginationFields(defaultLimit int) []validation.Field {
	return []validation.Field{
		validation.Int(ParamPage, validation.Default(1)),
		validation.Int(ParamLimit, validation.Default(defaultLimit)),
		validation.String(ParamSort, validation.MaxLen(200)),
	}
}

// IntentFrom 由校验后的值构造 Intent，读取 page、limit、sort 与 types
func IntentFrom(v validation.Values, b *Builder) (Intent, error) {
	in := Intent{
		Page:  v.Int(ParamPage),
		Limit: v.Int(ParamLimit),
	}
	if b != nil {
		in.Filters = b.Build(v)
	}
	keys, err := ParseSort(v.String(ParamSort))
	if err != nil {
		return Intent{}, err
	}
	in.Sort = keys
	for _, s := range v.Strings(ParamSources) {
		in.Sources = append(in.Sources, SourceID(s))
	}
	return in, nil
}
