package domain

import (
	"fmt"

	"hayatos/errors"
)

// NotFound 资源不存在，也用于资源属于其他用户的情形
func NotFound(kind string, id any) error {
	return errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("%s %v not found", kind, id)).
		WithContext("resource", kind)
}

// Conflict 状态不允许该操作
func Conflict(format string, args ...any) error {
	return errors.NewError(errors.ErrCodeConflict, fmt.Sprintf(format, args...))
}

// DBError 包装存储层错误，已是 AppError 的原样返回
func DBError(err error, op string) error {
	return errors.WrapDatabaseError(err, op)
}
