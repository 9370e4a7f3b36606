package source

import (
	"context"

	"hayatos/data/query"
	"hayatos/errors"
)

// DefaultOwnerField 按用户隔离的表中的归属列
const DefaultOwnerField = "user_id"

// ScopedSource 为每次查询追加归属谓词，保证按用户隔离的表不会跨用户读取
type ScopedSource struct {
	next  query.Source
	field string
	owner string
}

var _ query.Source = (*ScopedSource)(nil)

// Scoped 以 owner 限定查询，owner 为空时查询一律失败
func Scoped(next query.Source, field, owner string) *ScopedSource {
	if field == "" {
		field = DefaultOwnerField
	}
	return &ScopedSource{next: next, field: field, owner: owner}
}

func (s *ScopedSource) Execute(ctx context.Context, d *query.Descriptor) (query.Page, error) {
	if s.owner == "" {
		return query.Page{}, errors.NewError(errors.ErrCodeUnauthorized, "scoped query without owner")
	}
	return s.next.Execute(ctx, d.With(query.Eq(s.field, s.owner)))
}
