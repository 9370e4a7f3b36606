package sql

import (
	"context"
	"database/sql"
	"strings"

	core "hayatos/data/db"
	"hayatos/data/db/dialect"
)

type deleteBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table string
	where []string
	args  []any
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

// Build 没有 WHERE 条件时 panic，防止误删整表
func (b *deleteBuilder) Build() (string, []any) {
	mustIdentifier("table", b.table)
	if len(b.where) == 0 {
		panic("sql: delete without where clause on " + b.table)
	}
	q := "DELETE FROM " + b.dialect.QuoteIdentifier(b.table) + " WHERE " + strings.Join(b.where, " AND ")
	return q, append([]any(nil), b.args...)
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}
