package sql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "hayatos/data/db"
	"hayatos/data/db/basic"
)

func newSQLite(t *testing.T) core.IDatabase {
	t.Helper()
	db, err := basic.New(core.DBConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(context.Background(), `CREATE TABLE azkar (
		id INTEGER PRIMARY KEY,
		category TEXT NOT NULL,
		title TEXT NOT NULL,
		repeat_count INTEGER NOT NULL DEFAULT 1
	)`)
	require.NoError(t, err)
	return db
}

func TestSelectBuild(t *testing.T) {
	s := New(newSQLite(t))
	q, args := s.Select("id", "title").From("azkar").
		Where("category = ?", "morning").
		Or("category = ?", "evening").
		And("repeat_count >= ?", 3).
		OrderBy(`"title" ASC NULLS FIRST`).
		Limit(10).Offset(20).
		Build()
	assert.Equal(t, `SELECT id, title FROM "azkar" WHERE (category = ? OR category = ?) AND repeat_count >= ? ORDER BY "title" ASC NULLS FIRST LIMIT ? OFFSET ?`, q)
	assert.Equal(t, []any{"morning", "evening", 3, 10, 20}, args)
}

func TestSelectOffsetWithoutLimitOnSQLite(t *testing.T) {
	q, _ := New(newSQLite(t)).Select().From("azkar").Offset(5).Build()
	assert.Equal(t, `SELECT * FROM "azkar" LIMIT -1 OFFSET ?`, q)
}

func TestUnsafeIdentifiersPanic(t *testing.T) {
	s := New(newSQLite(t))
	assert.Panics(t, func() { s.Select().From("azkar; DROP TABLE azkar") })
	assert.Panics(t, func() { s.InsertInto("azkar").Columns("id", "title)").Values(1, "x").Build() })
	assert.Panics(t, func() { s.DeleteFrom("azkar").Build() })
}

func TestCRUDRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(newSQLite(t))

	_, err := s.InsertInto("azkar").Columns("id", "category", "title").
		Values(1, "morning", "Ayat al-Kursi").
		Values(2, "evening", "Al-Mu'awwidhat").
		Exec(ctx)
	require.NoError(t, err)

	res, err := s.Update("azkar").SetMap(map[string]any{"repeat_count": 3, "title": "Ayat al-Kursi (2:255)"}).
		Where("id = ?", 1).Exec(ctx)
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.EqualValues(t, 1, n)

	_, err = s.UpsertInto("azkar").Columns("id", "category", "title", "repeat_count").
		Values(2, "evening", "Last three surahs", 3).Key("id").Exec(ctx)
	require.NoError(t, err)

	rows, err := s.Select("id", "title", "repeat_count").From("azkar").OrderBy("id").Query(ctx)
	require.NoError(t, err)
	got, err := core.ScanMaps(rows)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ayat al-Kursi (2:255)", got[0]["title"])
	assert.Equal(t, "Last three surahs", got[1]["title"])
	assert.EqualValues(t, 3, got[1]["repeat_count"])

	_, err = s.DeleteFrom("azkar").Where("id = ?", 1).Exec(ctx)
	require.NoError(t, err)
	var count int
	require.NoError(t, s.Select("COUNT(1)").From("azkar").QueryRow(ctx).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpsertBuildUpdateColumns(t *testing.T) {
	q, args := New(newSQLite(t)).UpsertInto("azkar").
		Columns("id", "category", "title").Values(1, "m", "t").
		Key("id").Update("title").Build()
	assert.Equal(t, `INSERT INTO "azkar" ("id", "category", "title") VALUES (?, ?, ?) ON CONFLICT ("id") DO UPDATE SET "title" = excluded."title"`, q)
	assert.Equal(t, []any{1, "m", "t"}, args)
}
