// Package basic 基于 database/sql 的 IDatabase 实现，支持 sqlite（modernc.org/sqlite）与 postgres（pgx stdlib）
package basic

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	core "hayatos/data/db"
	"hayatos/data/db/dialect"
)

// DB core.IDatabase 实现
type DB struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// driverName 方言对应的 database/sql 驱动名
func driverName(d dialect.Dialect) (string, error) {
	switch d.Name() {
	case dialect.NameSQLite:
		return "sqlite", nil
	case dialect.NamePostgres:
		return "pgx", nil
	}
	return "", fmt.Errorf("basic: unsupported driver")
}

// New 打开连接并 Ping 检查可用性
func New(cfg core.DBConfig) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	d := dialect.New(cfg.Driver)
	driver, err := driverName(d)
	if err != nil {
		return nil, fmt.Errorf("%w %q", err, cfg.Driver)
	}

	dsn := cfg.DSN
	if d.Name() == dialect.NameSQLite {
		if dsn == "" {
			dsn = ":memory:"
		}
		// 内存库每个连接都是独立的数据库，只能使用单连接
		if dsn == ":memory:" {
			cfg.MaxOpenConns = 1
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if d.Name() == dialect.NameSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &DB{db: db, dialect: d}, nil
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, dialect: d.dialect}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }
func (d *DB) Raw() any                       { return d.db }

// GetDialectName 实现 core.IDialectNameProvider
func (d *DB) GetDialectName() string { return string(d.dialect.Name()) }

// SQLDB 返回底层 *sql.DB（迁移工具使用）
func (d *DB) SQLDB() *sql.DB { return d.db }
