package sql

import (
	"context"
	"database/sql"
	"strings"

	core "hayatos/data/db"
	"hayatos/data/db/dialect"
)

// upsertBuilder 生成 INSERT ... ON CONFLICT (key) DO UPDATE SET col = excluded.col（SQLite 与 Postgres 通用）
type upsertBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table   string
	columns []string
	values  []any
	keys    []string
	updates []string
}

func (b *upsertBuilder) Columns(cols ...string) IUpsertBuilder {
	b.columns = cols
	return b
}

func (b *upsertBuilder) Values(vals ...any) IUpsertBuilder {
	b.values = vals
	return b
}

func (b *upsertBuilder) Key(cols ...string) IUpsertBuilder {
	b.keys = cols
	return b
}

func (b *upsertBuilder) Update(cols ...string) IUpsertBuilder {
	b.updates = cols
	return b
}

func (b *upsertBuilder) Build() (string, []any) {
	if len(b.columns) == 0 || len(b.values) != len(b.columns) {
		panic("sql: upsert values length mismatch columns length")
	}
	if len(b.keys) == 0 {
		panic("sql: upsert requires key columns")
	}

	isKey := make(map[string]bool, len(b.keys))
	for _, k := range b.keys {
		mustIdentifier("column", k)
		isKey[k] = true
	}
	updates := b.updates
	if len(updates) == 0 {
		for _, c := range b.columns {
			if !isKey[c] {
				updates = append(updates, c)
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	writeColumns(&sb, b.dialect, b.table, b.columns)
	sb.WriteString(" VALUES (")
	sb.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", "))
	sb.WriteString(") ON CONFLICT (")
	quotedKeys := make([]string, len(b.keys))
	for i, k := range b.keys {
		quotedKeys[i] = b.dialect.QuoteIdentifier(k)
	}
	sb.WriteString(strings.Join(quotedKeys, ", "))
	sb.WriteString(")")

	if len(updates) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		sb.WriteString(" DO UPDATE SET ")
		for i, c := range updates {
			mustIdentifier("column", c)
			if i > 0 {
				sb.WriteString(", ")
			}
			q := b.dialect.QuoteIdentifier(c)
			sb.WriteString(q + " = excluded." + q)
		}
	}
	return sb.String(), append([]any(nil), b.values...)
}

func (b *upsertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}
