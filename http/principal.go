package http

import (
	"context"
	"strings"

	"hayatos/errors"
)

// Principal 当前调用方。
//
// 由上游认证网关通过请求头传入，作为显式参数传给每个服务方法，
// 服务层不从任何全局状态读取当前用户。
type Principal struct {
	UserID string `json:"user_id"`
}

// Anonymous 是否未认证
func (p Principal) Anonymous() bool { return strings.TrimSpace(p.UserID) == "" }

// WithPrincipal 在 context 中设置调用方
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFrom 读取调用方，不存在时返回匿名
func PrincipalFrom(ctx context.Context) Principal {
	if ctx == nil {
		return Principal{}
	}
	p, _ := ctx.Value(ctxKeyPrincipal).(Principal)
	return p
}

// RequirePrincipal 读取调用方，匿名时返回 UNAUTHORIZED
func RequirePrincipal(ctx IHttpContext) (Principal, error) {
	p := PrincipalFrom(ctx.GetContext())
	if p.Anonymous() {
		return Principal{}, errors.NewError(errors.ErrCodeUnauthorized, "authentication required")
	}
	return p, nil
}
