package basic

import (
	"fmt"
	"net/http"
	"strconv"

	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/logging"
)

// HttpUtils 处理器共用的解析与响应工具
type HttpUtils struct {
	Logger logging.Logger
}

// ParseID 解析正整数路径参数
func (u *HttpUtils) ParseID(ctx httpx.IHttpContext, paramName string) (int64, error) {
	idStr := ctx.GetParam(paramName)
	if idStr == "" {
		return 0, errors.NewFieldError(paramName, "required", "cannot be empty")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, errors.NewFieldError(paramName, "type", "must be a valid integer")
	}
	if id <= 0 {
		return 0, errors.NewFieldError(paramName, "min", "must be greater than 0")
	}
	return id, nil
}

// StatusFor 错误码对应的 HTTP 状态码
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeValidation, errors.ErrCodeInvalidPagination:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case errors.ErrCodeSourceExecution:
		return http.StatusBadGateway
	case errors.ErrCodeServiceUnavailable, errors.ErrCodeQueue:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse 以统一信封写出错误，响应已写出时不再写
func (u *HttpUtils) WriteErrorResponse(ctx httpx.IHttpContext, err error) error {
	if v, ok := ctx.Get(httpx.ResponseWritten); ok {
		if written, _ := v.(bool); written {
			return nil
		}
	}

	err = errors.Normalize(err)
	payload := httpx.ErrorPayload{
		Code:    string(errors.ErrCodeInternal),
		Message: "internal server error",
	}
	status := http.StatusInternalServerError
	if appErr, ok := err.(errors.IError); ok {
		status = StatusFor(appErr.Code())
		payload.Code = string(appErr.Code())
		payload.Message = appErr.Message()
		payload.Fields = errors.FieldErrors(err)
		if appErr.Code() == errors.ErrCodeInvalidPagination || appErr.Code() == errors.ErrCodeSourceExecution {
			payload.Details = appErr.Details()
		}
	}

	reqID := httpx.RequestIDFrom(ctx.GetContext())
	if status >= http.StatusInternalServerError {
		u.logger().Error(ctx.GetContext(), "request failed",
			logging.String("request_id", reqID),
			logging.String("path", ctx.GetPath()),
			logging.Int("status", status),
			logging.Error(err))
	}

	envelope := httpx.ErrorEnvelope{Error: payload, RequestID: reqID}
	if jerr := ctx.JSON(status, envelope); jerr != nil {
		_ = ctx.String(http.StatusInternalServerError, fmt.Sprintf("%s: %s", payload.Code, payload.Message))
	}
	return nil
}

// WriteSuccessResponse 200 + {"data": ...}
func (u *HttpUtils) WriteSuccessResponse(ctx httpx.IHttpContext, data any) error {
	return u.WriteJSON(ctx, http.StatusOK, data)
}

// WriteJSON 指定状态码写出 {"data": ...}
func (u *HttpUtils) WriteJSON(ctx httpx.IHttpContext, status int, data any) error {
	if jerr := ctx.JSON(status, httpx.NewSuccessResponse(data)); jerr != nil {
		return u.WriteErrorResponse(ctx, jerr)
	}
	return nil
}

func (u *HttpUtils) logger() logging.Logger {
	if u == nil || u.Logger == nil {
		return logging.ComponentLogger("http")
	}
	return u.Logger
}
