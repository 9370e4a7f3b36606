package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"hayatos/errors"
)

// FieldType 字段类型
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeDate   FieldType = "date"
	TypeList   FieldType = "list"
)

// DateLayout 日期字段格式
const DateLayout = "2006-01-02"

// Field 声明一个输入字段
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Default  any

	Min     *float64
	Max     *float64
	MinLen  int
	MaxLen  int
	Pattern *regexp.Regexp
	OneOf   []string
}

// FieldOption 字段选项
type FieldOption func(*Field)

func newField(name string, t FieldType, opts []FieldOption) Field {
	f := Field{Name: name, Type: t}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func String(name string, opts ...FieldOption) Field  { return newField(name, TypeString, opts) }
func Int(name string, opts ...FieldOption) Field     { return newField(name, TypeInt, opts) }
func Float(name string, opts ...FieldOption) Field   { return newField(name, TypeFloat, opts) }
func Bool(name string, opts ...FieldOption) Field    { return newField(name, TypeBool, opts) }
func Date(name string, opts ...FieldOption) Field    { return newField(name, TypeDate, opts) }
func List(name string, opts ...FieldOption) Field    { return newField(name, TypeList, opts) }

// Required 标记为必填
func Required() FieldOption { return func(f *Field) { f.Required = true } }

// Default 缺省值，类型需与字段类型一致（int、float64、bool、string、time.Time、[]string）
func Default(v any) FieldOption { return func(f *Field) { f.Default = v } }

func Min(n float64) FieldOption { return func(f *Field) { f.Min = &n } }
func Max(n float64) FieldOption { return func(f *Field) { f.Max = &n } }

func MinLen(n int) FieldOption { return func(f *Field) { f.MinLen = n } }
func MaxLen(n int) FieldOption { return func(f *Field) { f.MaxLen = n } }

// Pattern 正则约束，表达式非法时 panic
func Pattern(expr string) FieldOption {
	re := regexp.MustCompile(expr)
	return func(f *Field) { f.Pattern = re }
}

// OneOf 枚举约束，对 list 的每个元素生效
func OneOf(values ...string) FieldOption {
	return func(f *Field) { f.OneOf = append([]string(nil), values...) }
}

// Schema 一组字段声明，创建后只读，可并发使用
type Schema struct {
	fields []Field
}

// NewSchema 创建 Schema，字段名重复时 panic
func NewSchema(fields ...Field) *Schema {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			panic(fmt.Sprintf("validation: duplicate field %q", f.Name))
		}
		seen[f.Name] = true
	}
	return &Schema{fields: append([]Field(nil), fields...)}
}

// Fields 返回字段声明副本
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Extend 返回追加了字段的新 Schema
func (s *Schema) Extend(fields ...Field) *Schema {
	return NewSchema(append(s.Fields(), fields...)...)
}

// Validate 校验并转换原始输入。
//
// 未声明的键被忽略，空字符串视为未提供。所有字段都会被检查，
// 失败时返回一个 VALIDATION_ERROR，每个出错字段一条记录。
func (s *Schema) Validate(raw map[string]string) (Values, error) {
	out := Values{
		values:   make(map[string]any, len(s.fields)),
		provided: make(map[string]bool, len(s.fields)),
	}
	var fieldErrs []errors.FieldError

	for _, f := range s.fields {
		str, ok := raw[f.Name]
		str = strings.TrimSpace(str)
		if !ok || str == "" {
			if f.Required {
				fieldErrs = append(fieldErrs, firstFieldError(ValidateRequired("", f.Name)))
				continue
			}
			if f.Default != nil {
				out.values[f.Name] = f.Default
			}
			continue
		}

		v, err := f.coerce(str)
		if err == nil {
			err = f.check(v)
		}
		if err != nil {
			fieldErrs = append(fieldErrs, firstFieldError(err))
			continue
		}
		out.values[f.Name] = v
		out.provided[f.Name] = true
	}

	if len(fieldErrs) > 0 {
		return Values{}, errors.NewValidationErrors(fieldErrs)
	}
	return out, nil
}

// ValidateQuery 对 URL 查询参数校验，每个键取第一个值
func (s *Schema) ValidateQuery(q url.Values) (Values, error) {
	raw := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			raw[k] = vs[0]
		}
	}
	return s.Validate(raw)
}

// ValidateJSON 对 JSON 对象请求体校验。
// 数字、布尔按字面量处理，数组按逗号拼接，嵌套对象视为类型错误。
func (s *Schema) ValidateJSON(body []byte) (Values, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return s.Validate(nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Values{}, errors.NewFieldError("body", "type", "must be a JSON object")
	}

	raw := make(map[string]string, len(obj))
	var fieldErrs []errors.FieldError
	for _, f := range s.fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		str, ok := flattenJSON(v)
		if !ok {
			fieldErrs = append(fieldErrs, errors.FieldError{
				Field: f.Name, Rule: "type", Message: fmt.Sprintf("must be a %s", f.Type),
			})
			continue
		}
		raw[f.Name] = str
	}

	values, err := s.Validate(raw)
	if len(fieldErrs) == 0 {
		return values, err
	}
	return Values{}, errors.NewValidationErrors(append(fieldErrs, errors.FieldErrors(err)...))
}

func flattenJSON(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := flattenJSON(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), true
	default:
		return "", false
	}
}

func (f Field) typeError() error {
	return errors.NewFieldError(f.Name, "type", fmt.Sprintf("must be a %s", f.Type))
}

func (f Field) coerce(s string) (any, error) {
	switch f.Type {
	case TypeInt:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, f.typeError()
		}
		return n, nil
	case TypeFloat:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, f.typeError()
		}
		return n, nil
	case TypeBool:
		switch strings.ToLower(s) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, f.typeError()
	case TypeDate:
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, errors.NewFieldError(f.Name, "type", "must be a date (YYYY-MM-DD)")
		}
		return t, nil
	case TypeList:
		parts := strings.Split(s, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, nil
	default:
		return s, nil
	}
}

func (f Field) check(v any) error {
	switch t := v.(type) {
	case int:
		lo, hi := math.MinInt, math.MaxInt
		if f.Min != nil {
			lo = int(math.Ceil(*f.Min))
		}
		if f.Max != nil {
			hi = int(math.Floor(*f.Max))
		}
		return ValidateIntRange(t, f.Name, lo, hi)
	case float64:
		if f.Min != nil && t < *f.Min {
			return errors.NewFieldError(f.Name, "min", fmt.Sprintf("must be >= %g (got %g)", *f.Min, t))
		}
		if f.Max != nil && t > *f.Max {
			return errors.NewFieldError(f.Name, "max", fmt.Sprintf("must be <= %g (got %g)", *f.Max, t))
		}
	case string:
		if f.MinLen > 0 || f.MaxLen > 0 {
			if err := ValidateStringLength(t, f.Name, f.MinLen, f.MaxLen); err != nil {
				return err
			}
		}
		if f.Pattern != nil && !f.Pattern.MatchString(t) {
			return errors.NewFieldError(f.Name, "pattern", fmt.Sprintf("must match %s", f.Pattern))
		}
		if len(f.OneOf) > 0 {
			return ValidateEnum(t, f.Name, f.OneOf)
		}
	case []string:
		if f.MinLen > 0 && len(t) < f.MinLen {
			return errors.NewFieldError(f.Name, "min_length", fmt.Sprintf("must contain at least %d items", f.MinLen))
		}
		if f.MaxLen > 0 && len(t) > f.MaxLen {
			return errors.NewFieldError(f.Name, "max_length", fmt.Sprintf("must contain at most %d items", f.MaxLen))
		}
		for _, item := range t {
			if len(f.OneOf) > 0 {
				if err := ValidateEnum(item, f.Name, f.OneOf); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func firstFieldError(err error) errors.FieldError {
	if fe := errors.FieldErrors(err); len(fe) > 0 {
		return fe[0]
	}
	return errors.FieldError{Rule: "invalid", Message: err.Error()}
}

// Values 校验后的类型化输入，只读
type Values struct {
	values   map[string]any
	provided map[string]bool
}

// ValuesOf 直接由已类型化的值构造 Values，所有键视为客户端提供
func ValuesOf(m map[string]any) Values {
	v := Values{values: make(map[string]any, len(m)), provided: make(map[string]bool, len(m))}
	for k, val := range m {
		v.values[k] = val
		v.provided[k] = true
	}
	return v
}

// Get 返回原始值，字段不存在时 ok 为 false
func (v Values) Get(name string) (any, bool) {
	val, ok := v.values[name]
	if s, isList := val.([]string); isList {
		return append([]string(nil), s...), ok
	}
	return val, ok
}

// Has 字段有值（客户端提供或使用了默认值）
func (v Values) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// Provided 字段由客户端显式提供
func (v Values) Provided(name string) bool { return v.provided[name] }

func (v Values) String(name string) string {
	s, _ := v.values[name].(string)
	return s
}

func (v Values) Int(name string) int {
	switch n := v.values[name].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (v Values) Float(name string) float64 {
	switch n := v.values[name].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func (v Values) Bool(name string) bool {
	b, _ := v.values[name].(bool)
	return b
}

func (v Values) Date(name string) time.Time {
	t, _ := v.values[name].(time.Time)
	return t
}

// Strings 返回 list 字段副本
func (v Values) Strings(name string) []string {
	s, _ := v.values[name].([]string)
	return append([]string(nil), s...)
}

// Names 返回有值字段名（有序）
func (v Values) Names() []string {
	names := make([]string, 0, len(v.values))
	for k := range v.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
