package sql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	core "hayatos/data/db"
	"hayatos/data/db/dialect"
)

type updateBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table     string
	sets      []string
	setArgs   []any
	whereExpr []string
	whereArgs []any
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	mustIdentifier("column", col)
	b.sets = append(b.sets, b.dialect.QuoteIdentifier(col)+" = ?")
	b.setArgs = append(b.setArgs, val)
	return b
}

// SetMap 按列名排序写入，保证生成的 SQL 稳定
func (b *updateBuilder) SetMap(values map[string]any) IUpdateBuilder {
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	for _, c := range cols {
		b.Set(c, values[c])
	}
	return b
}

func (b *updateBuilder) SetExpr(expr string, args ...any) IUpdateBuilder {
	if expr != "" {
		b.sets = append(b.sets, expr)
		b.setArgs = append(b.setArgs, args...)
	}
	return b
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	if cond != "" {
		b.whereExpr = append(b.whereExpr, cond)
		b.whereArgs = append(b.whereArgs, args...)
	}
	return b
}

func (b *updateBuilder) Build() (string, []any) {
	if len(b.sets) == 0 {
		panic("sql: update has nothing to set")
	}
	mustIdentifier("table", b.table)

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.sets, ", "))

	args := make([]any, 0, len(b.setArgs)+len(b.whereArgs))
	args = append(args, b.setArgs...)
	if len(b.whereExpr) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.whereExpr, " AND "))
		args = append(args, b.whereArgs...)
	}
	return sb.String(), args
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}
