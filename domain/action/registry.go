// Package action 将 POST 请求中的 action 标识分派到各自的处理器。
//
// 每个 action 声明自己的载荷 schema，载荷在边界处校验后才交给处理器。
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"hayatos/errors"
	httpx "hayatos/http"
	"hayatos/validation"
)

// FieldAction 请求体中的 action 字段名
const FieldAction = "action"

// Handler action 处理器
type Handler interface {
	Handle(ctx context.Context, p httpx.Principal, in validation.Values) (any, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
	return f(ctx, p, in)
}

type entry struct {
	schema  *validation.Schema
	handler Handler
}

// Registry action 分派表，注册完成后只读
type Registry struct {
	name    string
	entries map[string]entry
}

// NewRegistry 创建分派表，name 仅用于错误信息
func NewRegistry(name string) *Registry {
	return &Registry{name: name, entries: make(map[string]entry)}
}

// Register 注册 action，重复注册 panic
func (r *Registry) Register(action string, schema *validation.Schema, h Handler) *Registry {
	if _, dup := r.entries[action]; dup {
		panic(fmt.Sprintf("action: %s registered twice in %s", action, r.name))
	}
	if schema == nil {
		schema = validation.NewSchema()
	}
	r.entries[action] = entry{schema: schema, handler: h}
	return r
}

// Actions 已注册的 action（有序）
func (r *Registry) Actions() []string {
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve 读取 action 字段并按其 schema 校验载荷
func (r *Registry) Resolve(body []byte) (Handler, validation.Values, error) {
	body = bytes.TrimSpace(body)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, validation.Values{}, errors.NewFieldError("body", "type", "must be a JSON object")
	}
	raw, ok := obj[FieldAction]
	if !ok {
		return nil, validation.Values{}, errors.NewFieldError(FieldAction, "required", "is required")
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return nil, validation.Values{}, errors.NewFieldError(FieldAction, "type", "must be a string")
	}
	if strings.TrimSpace(name) == "" {
		return nil, validation.Values{}, errors.NewFieldError(FieldAction, "required", "is required")
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, validation.Values{}, errors.NewFieldError(FieldAction, "oneof",
			fmt.Sprintf("must be one of: %s", strings.Join(r.Actions(), ", ")))
	}
	values, err := e.schema.ValidateJSON(body)
	if err != nil {
		return nil, validation.Values{}, err
	}
	return e.handler, values, nil
}

// Dispatch 解析并执行
func (r *Registry) Dispatch(ctx context.Context, p httpx.Principal, body []byte) (any, error) {
	h, values, err := r.Resolve(body)
	if err != nil {
		return nil, err
	}
	return h.Handle(ctx, p, values)
}
