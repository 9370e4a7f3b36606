package basic

import (
	"context"
	"database/sql"
	"errors"

	core "hayatos/data/db"
	"hayatos/data/db/dialect"
)

var errNestedTx = errors.New("basic: nested transactions are not supported")

// Tx 委托给 *sql.Tx，同时满足 core.IDatabase，可直接传给只依赖 IDatabase 的代码
type Tx struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect dialect.Dialect
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) Begin(context.Context) (core.ITransaction, error) { return nil, errNestedTx }

func (t *Tx) BeginTx(context.Context, *sql.TxOptions) (core.ITransaction, error) {
	return nil, errNestedTx
}

func (t *Tx) Ping(ctx context.Context) error { return t.db.PingContext(ctx) }
func (t *Tx) Close() error                   { return nil }
func (t *Tx) Raw() any                       { return t.tx }

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) GetDialectName() string { return string(t.dialect.Name()) }
