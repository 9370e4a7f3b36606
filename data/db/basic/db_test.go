package basic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "hayatos/data/db"
)

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(core.DBConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	db, err := New(core.DBConfig{Driver: "sqlite"})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, "sqlite", db.GetDialectName())

	_, err = db.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	err = core.WithTx(ctx, db, func(tx core.ITransaction) error {
		_, err := tx.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = core.WithTx(ctx, db, func(tx core.ITransaction) error {
		if _, err := tx.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "b", "2"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(1) FROM kv").Scan(&n))
	assert.Equal(t, 1, n, "failed transaction rolled back")

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Begin(ctx)
	assert.Error(t, err)
	require.NoError(t, tx.Rollback())
}
