package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误代码
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// 查询错误代码
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidPagination ErrorCode = "INVALID_PAGINATION"
	ErrCodeSourceExecution   ErrorCode = "SOURCE_EXECUTION"

	// 基础设施错误代码
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeCache    ErrorCode = "CACHE_ERROR"
	ErrCodeQueue    ErrorCode = "QUEUE_ERROR"
)

// IError 错误接口
type IError interface {
	error

	Code() ErrorCode
	Message() string
	Cause() error
	Details() map[string]any
	Stack() string

	Is(target error) bool
	Wrap(msg string) IError
	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误，err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Stack() string   { return e.stack }

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Is 同错误码的 AppError 视为相等，否则沿 cause 链比较
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}
	return false
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error { return e.cause }

// Wrap 在消息前追加上下文，保留错误码
func (e *AppError) Wrap(msg string) IError {
	return &AppError{
		code:    e.code,
		message: fmt.Sprintf("%s: %s", msg, e.message),
		cause:   e,
		details: copyMap(e.details),
		stack:   captureStack(),
	}
}

// WithDetails 返回合并了 details 的新错误
func (e *AppError) WithDetails(details map[string]any) IError {
	newDetails := copyMap(e.details)
	for k, v := range details {
		newDetails[k] = v
	}
	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

// WithContext 返回追加单个详情的新错误
func (e *AppError) WithContext(key string, value any) IError {
	return e.WithDetails(map[string]any{key: value})
}

// 预定义错误变量，仅用于 errors.Is 比较
var (
	ErrInternal          = NewError(ErrCodeInternal, "internal server error")
	ErrInvalidInput      = NewError(ErrCodeInvalidInput, "invalid input")
	ErrNotFound          = NewError(ErrCodeNotFound, "resource not found")
	ErrConflict          = NewError(ErrCodeConflict, "resource conflict")
	ErrUnauthorized      = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrValidation        = NewError(ErrCodeValidation, "validation failed")
	ErrInvalidPagination = NewError(ErrCodeInvalidPagination, "invalid pagination")
	ErrSourceExecution   = NewError(ErrCodeSourceExecution, "source execution failed")
)

// IsNotFound 检查是否为未找到错误
func IsNotFound(err error) bool { return IsErrorCode(err, ErrCodeNotFound) }

// IsValidation 检查是否为验证错误
func IsValidation(err error) bool { return IsErrorCode(err, ErrCodeValidation) }

// IsConflict 检查是否为冲突错误
func IsConflict(err error) bool { return IsErrorCode(err, ErrCodeConflict) }

// IsInvalidPagination 检查是否为分页参数错误
func IsInvalidPagination(err error) bool { return IsErrorCode(err, ErrCodeInvalidPagination) }

// IsSourceExecution 检查是否为数据源执行错误
func IsSourceExecution(err error) bool { return IsErrorCode(err, ErrCodeSourceExecution) }

// IsErrorCode 检查最外层 AppError 的错误码
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code == code
	}
	return false
}

// GetErrorCode 获取错误代码，非 AppError 视为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return builder.String()
}

func copyMap(original map[string]any) map[string]any {
	copied := make(map[string]any, len(original))
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
