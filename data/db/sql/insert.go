package sql

import (
	"context"
	"database/sql"
	"strings"

	core "hayatos/data/db"
	"hayatos/data/db/dialect"
)

type insertBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table   string
	columns []string
	rows    [][]any
}

func (b *insertBuilder) Columns(cols ...string) IInsertBuilder {
	b.columns = cols
	return b
}

// Values 追加一行，可多次调用批量插入
func (b *insertBuilder) Values(vals ...any) IInsertBuilder {
	if len(vals) > 0 {
		b.rows = append(b.rows, vals)
	}
	return b
}

func (b *insertBuilder) Build() (string, []any) {
	if len(b.columns) == 0 || len(b.rows) == 0 {
		panic("sql: insert requires columns and at least one row")
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	writeColumns(&sb, b.dialect, b.table, b.columns)
	sb.WriteString(" VALUES ")

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", ") + ")"
	args := make([]any, 0, len(b.rows)*len(b.columns))
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			panic("sql: insert values length mismatch columns length")
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholder)
		args = append(args, row...)
	}
	return sb.String(), args
}

func (b *insertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}

// writeColumns 写入 table (c1, c2, ...)
func writeColumns(sb *strings.Builder, d dialect.Dialect, table string, cols []string) {
	mustIdentifier("table", table)
	sb.WriteString(d.QuoteIdentifier(table))
	sb.WriteString(" (")
	for i, col := range cols {
		mustIdentifier("column", col)
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.QuoteIdentifier(col))
	}
	sb.WriteString(")")
}
