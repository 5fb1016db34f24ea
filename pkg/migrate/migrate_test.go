package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestRunUpCreatesCoreTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Run(context.Background(), db, "up"))

	for _, table := range []string{"payment_intents", "cart_snapshots", "catalog_snapshots", "metadata"} {
		assert.True(t, tableExists(t, db, table), "table %s must exist after up", table)
	}
}

func TestRunUpIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Run(context.Background(), db, "up"))
	require.NoError(t, Run(context.Background(), db, "up"))
}

func TestRunDownDropsTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Run(context.Background(), db, "up"))
	require.NoError(t, Run(context.Background(), db, "down"))

	assert.False(t, tableExists(t, db, "payment_intents"))
}

func TestRunRequiresDB(t *testing.T) {
	require.Error(t, Run(context.Background(), nil, "up"))
}
