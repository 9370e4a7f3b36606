package dialect

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRebind_Postgres(t *testing.T) {
	d := New("pgx")
	got := d.Rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", got)
}

func TestRebind_NoChangeForSQLite(t *testing.T) {
	orig := "DELETE FROM t WHERE id = ? AND name = ?"
	assert.Equal(t, orig, New("sqlite3").Rebind(orig))
	assert.Equal(t, orig, New("unknown").Rebind(orig))
}

func TestQuoteAndOrder(t *testing.T) {
	d := New("sqlite")
	assert.Equal(t, `"main"."habits"`, d.QuoteIdentifier("main.habits"))
	assert.Equal(t, `"title" ASC NULLS FIRST`, d.OrderTerm("title", false))
	assert.Equal(t, `"title" DESC NULLS LAST`, d.OrderTerm("title", true))
	assert.Equal(t, "title", New("").QuoteIdentifier("title"))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_now\\`, EscapeLike(`50% off_now\`))
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	assert.True(t, New("postgres").IsUniqueViolation(pgErr))
	assert.False(t, New("postgres").IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, New("sqlite").IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: habits.id (2067)")))
	assert.False(t, New("sqlite").IsUniqueViolation(nil))
}
