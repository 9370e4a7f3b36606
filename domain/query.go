package domain

import (
	"hayatos/data/query"
	httpx "hayatos/http"
	"hayatos/validation"
)

// ListEndpoint 一个列表接口的声明：参数 schema、谓词绑定与编译器。
// 三者在启动时构造，请求间只读共享。
type ListEndpoint struct {
	Schema   *validation.Schema
	Builder  *query.Builder
	Compiler *query.Compiler
}

// Parse 校验查询参数并生成 Intent
func (e *ListEndpoint) Parse(ctx httpx.IHttpContext) (validation.Values, query.Intent, error) {
	values, err := e.Schema.ValidateQuery(ctx.GetQueryParams())
	if err != nil {
		return validation.Values{}, query.Intent{}, err
	}
	in, err := query.IntentFrom(values, e.Builder)
	if err != nil {
		return validation.Values{}, query.Intent{}, err
	}
	return values, in, nil
}

// Compile 校验 → 构建谓词 → 编译
func (e *ListEndpoint) Compile(ctx httpx.IHttpContext) (*query.Descriptor, error) {
	_, in, err := e.Parse(ctx)
	if err != nil {
		return nil, err
	}
	return e.Compiler.Compile(in)
}

// Respond 200 + {"data": v}
func Respond(ctx httpx.IHttpContext, status int, v any) error {
	return ctx.JSON(status, httpx.NewSuccessResponse(v))
}
