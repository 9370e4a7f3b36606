package query

import (
	"reflect"
	"strings"

	"hayatos/validation"
)

// Kind 谓词类型
type Kind string

const (
	KindEquals    Kind = "equals"
	KindRange     Kind = "range"
	KindSubstring Kind = "substring"
	KindIn        Kind = "in"
)

// Predicate 单个过滤条件。
//
// 多个谓词之间为 AND；substring 的 Fields 之间为 OR。
type Predicate struct {
	Kind   Kind     `json:"kind"`
	Field  string   `json:"field,omitempty"`
	Fields []string `json:"fields,omitempty"`
	Value  any      `json:"value,omitempty"`
	Lower  any      `json:"lower,omitempty"`
	Upper  any      `json:"upper,omitempty"`
	Values []any    `json:"values,omitempty"`
}

// Eq 等值谓词
func Eq(field string, value any) Predicate {
	return Predicate{Kind: KindEquals, Field: field, Value: value}
}

// Between 闭区间谓词，lower/upper 为 nil 表示该侧不限
func Between(field string, lower, upper any) Predicate {
	return Predicate{Kind: KindRange, Field: field, Lower: lower, Upper: upper}
}

// Contains 不区分大小写的子串匹配，任一字段命中即可
func Contains(term string, fields ...string) Predicate {
	return Predicate{Kind: KindSubstring, Fields: append([]string(nil), fields...), Value: term}
}

// In 集合成员谓词
func In(field string, values ...any) Predicate {
	return Predicate{Kind: KindIn, Field: field, Values: append([]any(nil), values...)}
}

// Targets 返回谓词涉及的全部字段
func (p Predicate) Targets() []string {
	if p.Kind == KindSubstring {
		return append([]string(nil), p.Fields...)
	}
	return []string{p.Field}
}

func (p Predicate) clone() Predicate {
	c := p
	c.Fields = append([]string(nil), p.Fields...)
	c.Values = append([]any(nil), p.Values...)
	if len(p.Fields) == 0 {
		c.Fields = nil
	}
	if len(p.Values) == 0 {
		c.Values = nil
	}
	return c
}

// Match 判断行是否满足谓词
func (p Predicate) Match(row Row) bool {
	switch p.Kind {
	case KindEquals:
		v, ok := row[p.Field]
		return ok && v != nil && Compare(v, p.Value) == 0
	case KindRange:
		v, ok := row[p.Field]
		if !ok || v == nil {
			return false
		}
		if p.Lower != nil && Compare(v, p.Lower) < 0 {
			return false
		}
		if p.Upper != nil && Compare(v, p.Upper) > 0 {
			return false
		}
		return true
	case KindSubstring:
		term, _ := p.Value.(string)
		term = strings.ToLower(term)
		for _, f := range p.Fields {
			s, ok := row[f].(string)
			if ok && strings.Contains(strings.ToLower(s), term) {
				return true
			}
		}
		return false
	case KindIn:
		v, ok := row[p.Field]
		if !ok || v == nil {
			return false
		}
		for _, candidate := range p.Values {
			if Compare(v, candidate) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// MatchAll 所有谓词均满足
func MatchAll(row Row, preds []Predicate) bool {
	for _, p := range preds {
		if !p.Match(row) {
			return false
		}
	}
	return true
}

// Binding 声明请求参数到谓词的映射
type Binding struct {
	kind   Kind
	params []string
	field  string
	fields []string
	unless []any
}

// EqualsOn 参数 param 映射为 field 上的等值谓词
func EqualsOn(param, field string) Binding {
	return Binding{kind: KindEquals, params: []string{param}, field: field}
}

// RangeOn 两个参数分别作为 field 的下界与上界，任一可缺省
func RangeOn(field, lowerParam, upperParam string) Binding {
	return Binding{kind: KindRange, params: []string{lowerParam, upperParam}, field: field}
}

// SearchOn 参数 param 作为搜索词在 fields 上做子串匹配
func SearchOn(param string, fields ...string) Binding {
	return Binding{kind: KindSubstring, params: []string{param}, fields: append([]string(nil), fields...)}
}

// InOn 列表参数 param 映射为 field 上的集合成员谓词
func InOn(param, field string) Binding {
	return Binding{kind: KindIn, params: []string{param}, field: field}
}

// Unless 参数等于这些哨兵值（如 "all"）时不产生约束
func (b Binding) Unless(values ...any) Binding {
	b.unless = append(append([]any(nil), b.unless...), values...)
	return b
}

// Builder 按声明顺序生成谓词，创建后只读
type Builder struct {
	bindings []Binding
}

// NewBuilder 创建谓词构建器
func NewBuilder(bindings ...Binding) *Builder {
	return &Builder{bindings: append([]Binding(nil), bindings...)}
}

// Params 返回所有被引用的参数名
func (b *Builder) Params() []string {
	var out []string
	for _, bd := range b.bindings {
		out = append(out, bd.params...)
	}
	return out
}

// Build 由校验后的值生成谓词序列，缺省或哨兵值不产生谓词
func (b *Builder) Build(v validation.Values) []Predicate {
	preds := make([]Predicate, 0, len(b.bindings))
	for _, bd := range b.bindings {
		switch bd.kind {
		case KindEquals:
			if val, ok := bd.value(v, bd.params[0]); ok {
				if list, isList := val.([]string); isList {
					preds = append(preds, In(bd.field, stringsToAny(list)...))
					continue
				}
				preds = append(preds, Eq(bd.field, val))
			}
		case KindRange:
			lo, hasLo := bd.value(v, bd.params[0])
			hi, hasHi := bd.value(v, bd.params[1])
			if hasLo || hasHi {
				preds = append(preds, Between(bd.field, lo, hi))
			}
		case KindSubstring:
			if val, ok := bd.value(v, bd.params[0]); ok {
				if term, isStr := val.(string); isStr {
					preds = append(preds, Contains(strings.TrimSpace(term), bd.fields...))
				}
			}
		case KindIn:
			if val, ok := bd.value(v, bd.params[0]); ok {
				switch t := val.(type) {
				case []string:
					preds = append(preds, In(bd.field, stringsToAny(t)...))
				default:
					preds = append(preds, In(bd.field, t))
				}
			}
		}
	}
	return preds
}

// value 取参数值，缺省、空值、哨兵值返回 false
func (bd Binding) value(v validation.Values, param string) (any, bool) {
	if param == "" {
		return nil, false
	}
	val, ok := v.Get(param)
	if !ok || isEmptyValue(val) {
		return nil, false
	}
	if list, isList := val.([]string); isList {
		kept := make([]string, 0, len(list))
		for _, item := range list {
			if !bd.isSentinel(item) {
				kept = append(kept, item)
			}
		}
		// 列表里出现哨兵值（如 types=all）等同于不过滤
		if len(kept) == 0 || len(kept) < len(list) {
			return nil, false
		}
		return kept, true
	}
	if bd.isSentinel(val) {
		return nil, false
	}
	return val, true
}

func (bd Binding) isSentinel(val any) bool {
	for _, s := range bd.unless {
		if reflect.DeepEqual(s, val) {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	}
	return false
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
