package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
)

// FieldError 描述单个字段的校验失败
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

const detailFields = "fields"

// NewValidationErrors 将多个字段错误合并为一个 VALIDATION_ERROR。
//
// 字段按名称排序，同一字段保留全部规则，客户端可一次性修正所有问题。
func NewValidationErrors(fieldErrs []FieldError) IError {
	sorted := make([]FieldError, len(fieldErrs))
	copy(sorted, fieldErrs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })

	parts := make([]string, 0, len(sorted))
	for _, f := range sorted {
		parts = append(parts, f.String())
	}
	msg := "validation failed"
	if len(parts) > 0 {
		msg = fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{detailFields: sorted})
}

// NewFieldError 单字段校验失败的快捷方式
func NewFieldError(field, rule, message string) IError {
	return NewValidationErrors([]FieldError{{Field: field, Rule: rule, Message: message}})
}

// FieldErrors 取出错误中携带的字段错误列表，非校验错误返回 nil
func FieldErrors(err error) []FieldError {
	var appErr *AppError
	if !stdErrors.As(err, &appErr) || appErr.code != ErrCodeValidation {
		return nil
	}
	fields, _ := appErr.Details()[detailFields].([]FieldError)
	return fields
}

// NewInvalidPagination 创建分页参数越界错误
func NewInvalidPagination(page, limit, maxLimit int) IError {
	var msg string
	switch {
	case page < 1:
		msg = fmt.Sprintf("page must be >= 1 (got %d)", page)
	case limit < 1:
		msg = fmt.Sprintf("limit must be >= 1 (got %d)", limit)
	case limit > maxLimit:
		msg = fmt.Sprintf("limit must be <= %d (got %d)", maxLimit, limit)
	default:
		msg = fmt.Sprintf("page %d is out of range for limit %d", page, limit)
	}
	return NewError(ErrCodeInvalidPagination, msg).WithDetails(map[string]any{
		"page":      page,
		"limit":     limit,
		"max_limit": maxLimit,
	})
}

// NewSourceExecution 包装外部数据源适配器的失败，原样保留 cause
func NewSourceExecution(source string, cause error) IError {
	if cause == nil {
		return nil
	}
	return WrapError(cause, ErrCodeSourceExecution, fmt.Sprintf("source %q failed", source)).
		WithContext("source", source)
}

// SourceOf 返回 SOURCE_EXECUTION 错误关联的数据源标识
func SourceOf(err error) string {
	var appErr *AppError
	if !stdErrors.As(err, &appErr) || appErr.code != ErrCodeSourceExecution {
		return ""
	}
	s, _ := appErr.Details()["source"].(string)
	return s
}
