package errors

// WrapDatabaseError 存储层错误归类。
// 已是 AppError 或可识别的（记录不存在、超时）按 Normalize 结果返回，
// 其余归为 DATABASE_ERROR，details 中带上 operation。
func WrapDatabaseError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if n, ok := Normalize(err).(IError); ok {
		return n
	}
	return WrapError(err, ErrCodeDatabase, operation).WithContext("operation", operation)
}
