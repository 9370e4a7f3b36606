// Package dbtest 测试用的已迁移内存数据库
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	core "hayatos/data/db"
	"hayatos/data/db/basic"
	"hayatos/data/db/migrate"
	"hayatos/logging"
)

// Open 创建 sqlite 内存库并执行全部迁移（含示例内容），测试结束时关闭
func Open(t testing.TB) *basic.DB {
	t.Helper()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := migrate.New(db.SQLDB(), db.GetDialectName(), logging.NewNoopLogger())
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))
	return db
}
