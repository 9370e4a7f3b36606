// Package sqlsource 将 query.Descriptor 翻译为 SQL 的数据源。
//
// substring 谓词翻译为 LOWER(col) LIKE ?，大小写折叠依赖数据库的 LOWER：
// Postgres（UTF-8 库）按 Unicode 折叠；sqlite 内置 LOWER 只折叠 ASCII，
// 由 data/db/basic 注册的 Unicode 版本替换，因此只有经 basic 打开的 sqlite 连接与 query.Apply 一致。
package sqlsource

import (
	"context"
	"fmt"
	"strings"
	"time"

	core "hayatos/data/db"
	"hayatos/data/db/dialect"
	dbsql "hayatos/data/db/sql"
	"hayatos/data/query"
	"hayatos/errors"
)

// Table 静态表声明，只有声明过的列可以被过滤、排序或返回
type Table struct {
	Name    string
	Columns []string
}

// Has 列是否已声明
func (t Table) Has(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Source 基于 data/db 的 query.Source 实现
type Source struct {
	sql   dbsql.ISql
	table Table
}

var _ query.Source = (*Source)(nil)

// New 创建 SQL 数据源，表名或列名不安全时 panic
func New(db core.IDatabase, table Table) *Source {
	if !query.IsSafeField(table.Name) || len(table.Columns) == 0 {
		panic(fmt.Sprintf("sqlsource: invalid table declaration %q", table.Name))
	}
	for _, c := range table.Columns {
		if !query.IsSafeField(c) {
			panic(fmt.Sprintf("sqlsource: unsafe column %q in table %q", c, table.Name))
		}
	}
	return &Source{sql: dbsql.New(db), table: table}
}

// Table 返回表声明
func (s *Source) Table() Table { return s.table }

// Execute 先 COUNT 再取当前页，两条语句共用同一组条件
func (s *Source) Execute(ctx context.Context, d *query.Descriptor) (query.Page, error) {
	conds, err := s.conditions(d.Predicates)
	if err != nil {
		return query.Page{}, err
	}
	order, err := s.orderBy(d.Order)
	if err != nil {
		return query.Page{}, err
	}

	var total int64
	counter := s.sql.Select("COUNT(1)").From(s.table.Name)
	for _, c := range conds {
		counter.Where(c.expr, c.args...)
	}
	if err := counter.QueryRow(ctx).Scan(&total); err != nil {
		return query.Page{}, errors.WrapError(err, errors.ErrCodeDatabase, "count "+s.table.Name)
	}
	if total == 0 || (d.Limit > 0 && d.Offset >= int(total)) {
		return query.Page{Rows: []query.Row{}, Total: total}, nil
	}

	cols := make([]string, len(s.table.Columns))
	for i, c := range s.table.Columns {
		cols[i] = s.dialect().QuoteIdentifier(c)
	}
	sel := s.sql.Select(cols...).From(s.table.Name).OrderBy(order).Limit(d.Limit).Offset(d.Offset)
	for _, c := range conds {
		sel.Where(c.expr, c.args...)
	}
	rows, err := sel.Query(ctx)
	if err != nil {
		return query.Page{}, errors.WrapError(err, errors.ErrCodeDatabase, "select "+s.table.Name)
	}
	maps, err := core.ScanMaps(rows)
	if err != nil {
		return query.Page{}, errors.WrapError(err, errors.ErrCodeDatabase, "scan "+s.table.Name)
	}
	out := make([]query.Row, len(maps))
	for i, m := range maps {
		for k, v := range m {
			if t, ok := v.(time.Time); ok {
				m[k] = query.FormatTime(t)
			}
		}
		out[i] = query.Row(m)
	}
	return query.Page{Rows: out, Total: total}, nil
}

func (s *Source) dialect() dialect.Dialect { return s.sql.Dialect() }

type condition struct {
	expr string
	args []any
}

func (s *Source) conditions(preds []query.Predicate) ([]condition, error) {
	out := make([]condition, 0, len(preds))
	for _, p := range preds {
		for _, f := range p.Targets() {
			if !s.table.Has(f) {
				return nil, errors.NewFieldError(f, "filterable", fmt.Sprintf("unknown column for %s", s.table.Name))
			}
		}
		q := s.dialect().QuoteIdentifier
		switch p.Kind {
		case query.KindEquals:
			out = append(out, condition{q(p.Field) + " = ?", []any{bindArg(p.Value)}})
		case query.KindRange:
			if p.Lower != nil {
				out = append(out, condition{q(p.Field) + " >= ?", []any{bindArg(p.Lower)}})
			}
			if p.Upper != nil {
				out = append(out, condition{q(p.Field) + " <= ?", []any{bindArg(p.Upper)}})
			}
		case query.KindSubstring:
			term, _ := p.Value.(string)
			pattern := "%" + dialect.EscapeLike(strings.ToLower(term)) + "%"
			parts := make([]string, len(p.Fields))
			args := make([]any, len(p.Fields))
			for i, f := range p.Fields {
				parts[i] = "LOWER(" + q(f) + `) LIKE ? ESCAPE '\'`
				args[i] = pattern
			}
			out = append(out, condition{"(" + strings.Join(parts, " OR ") + ")", args})
		case query.KindIn:
			if len(p.Values) == 0 {
				out = append(out, condition{expr: "1 = 0"})
				continue
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(p.Values)), ", ")
			args := make([]any, len(p.Values))
			for i, v := range p.Values {
				args[i] = bindArg(v)
			}
			out = append(out, condition{q(p.Field) + " IN (" + marks + ")", args})
		default:
			return nil, errors.NewFieldError(p.Field, "kind", fmt.Sprintf("unsupported predicate kind %q", p.Kind))
		}
	}
	return out, nil
}

func (s *Source) orderBy(keys []query.SortKey) (string, error) {
	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		if !s.table.Has(k.Field) {
			return "", errors.NewFieldError(query.ParamSort, "sortable", fmt.Sprintf("unknown column %q for %s", k.Field, s.table.Name))
		}
		terms = append(terms, s.dialect().OrderTerm(k.Field, k.Desc))
	}
	return strings.Join(terms, ", "), nil
}

// bindArg 时间统一为文本，与 query.Apply 的比较语义一致
func bindArg(v any) any {
	if t, ok := v.(time.Time); ok {
		return query.FormatTime(t)
	}
	return v
}
