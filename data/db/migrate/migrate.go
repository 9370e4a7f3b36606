// Package migrate 内嵌 SQL 迁移，使用 golang-migrate 执行
package migrate

import (
	"context"
	"database/sql"
	"embed"
	stdErrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"hayatos/data/db/dialect"
	"hayatos/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator 迁移执行器
type Migrator struct {
	m      *migrate.Migrate
	logger logging.Logger
}

// migrateLogger 适配 migrate.Logger
type migrateLogger struct {
	logger logging.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(context.Background(), fmt.Sprintf(format, v...))
}

func (l migrateLogger) Verbose() bool { return false }

// New 基于已打开的连接创建 Migrator，dialectName 为 sqlite 或 postgres。
// 不提供 Close：数据库驱动的 Close 会关闭传入的 *sql.DB，连接由调用方管理。
func New(db *sql.DB, dialectName string, logger logging.Logger) (*Migrator, error) {
	if logger == nil {
		logger = logging.ComponentLogger("db.migrate")
	}

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: open embedded migrations: %w", err)
	}

	var (
		driver database.Driver
		name   string
	)
	switch dialect.New(dialectName).Name() {
	case dialect.NameSQLite:
		name = "sqlite"
		driver, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	case dialect.NamePostgres:
		name = "pgx5"
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		return nil, fmt.Errorf("migrate: unsupported dialect %q", dialectName)
	}
	if err != nil {
		return nil, fmt.Errorf("migrate: init %s driver: %w", name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m.Log = migrateLogger{logger: logger}
	return &Migrator{m: m, logger: logger}, nil
}

// Up 执行全部未应用的迁移，已是最新时返回 nil
func (m *Migrator) Up(ctx context.Context) error {
	err := m.m.Up()
	if stdErrors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug(ctx, "schema up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	v, _, _ := m.m.Version()
	m.logger.Info(ctx, "schema migrated", logging.Int("version", int(v)))
	return nil
}

// Down 回滚 steps 个版本，steps <= 0 回滚全部
func (m *Migrator) Down(ctx context.Context, steps int) error {
	var err error
	if steps <= 0 {
		err = m.m.Down()
	} else {
		err = m.m.Steps(-steps)
	}
	if err != nil && !stdErrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	m.logger.Info(ctx, "schema rolled back", logging.Int("steps", steps))
	return nil
}

// Version 当前版本，未迁移过时 ok 为 false
func (m *Migrator) Version() (version uint, dirty bool, ok bool, err error) {
	version, dirty, err = m.m.Version()
	if stdErrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return version, dirty, true, nil
}
