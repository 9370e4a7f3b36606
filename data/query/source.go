package query

import (
	"context"
	"math"

	"hayatos/errors"
)

// Page 数据源返回的一页结果，Total 为分页前的匹配总数
type Page struct {
	Rows  []Row
	Total int64
}

// Source 外部数据源适配器。
//
// 实现必须遵循 Predicate 语义，先完整排序再应用 offset/limit，
// Limit 为 0 时返回全部匹配行。
type Source interface {
	Execute(ctx context.Context, d *Descriptor) (Page, error)
}

// SourceFunc 函数适配器
type SourceFunc func(ctx context.Context, d *Descriptor) (Page, error)

func (f SourceFunc) Execute(ctx context.Context, d *Descriptor) (Page, error) { return f(ctx, d) }

// PagedResult 分页结果
type PagedResult[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// NewPagedResult 计算 TotalPages = ceil(total/limit)，limit 非正时按 1 计算
func NewPagedResult[T any](data []T, total int64, w Window) *PagedResult[T] {
	size := w.Limit
	if size <= 0 {
		size = len(data)
		if size == 0 {
			size = 1
		}
	}
	if data == nil {
		data = []T{}
	}
	return &PagedResult[T]{
		Data:       data,
		Total:      total,
		Page:       w.Page(),
		Limit:      size,
		TotalPages: int(math.Ceil(float64(total) / float64(size))),
	}
}

// Map 转换每行数据，分页信息保持不变
func Map[T, U any](r *PagedResult[T], fn func(T) U) *PagedResult[U] {
	out := make([]U, len(r.Data))
	for i, v := range r.Data {
		out[i] = fn(v)
	}
	return &PagedResult[U]{Data: out, Total: r.Total, Page: r.Page, Limit: r.Limit, TotalPages: r.TotalPages}
}

// Execute 在单一数据源上执行 Descriptor，适配器失败包装为 SOURCE_EXECUTION，
// 适配器给出的 VALIDATION_ERROR、UNAUTHORIZED 不包装
func Execute(ctx context.Context, id SourceID, src Source, d *Descriptor) (*PagedResult[Row], error) {
	page, err := run(ctx, id, src, d)
	if err != nil {
		return nil, err
	}
	rows := page.Rows
	if d.Limit > 0 && len(rows) > d.Limit {
		rows = rows[:d.Limit]
	}
	return NewPagedResult(rows, page.Total, d.Window()), nil
}

func run(ctx context.Context, id SourceID, src Source, d *Descriptor) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, errors.NewSourceExecution(string(id), err)
	}
	page, err := src.Execute(ctx, d)
	if err != nil {
		if errors.IsSourceExecution(err) || rejectsRequest(err) {
			return Page{}, err
		}
		return Page{}, errors.NewSourceExecution(string(id), err)
	}
	return page, nil
}

// rejectsRequest 适配器对请求本身的拒绝（未声明的列、缺少 owner）原样返回
func rejectsRequest(err error) bool {
	return errors.IsValidation(err) || errors.IsErrorCode(err, errors.ErrCodeUnauthorized)
}
