package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypaste/internal/storage"
	"tinypaste/internal/storage/storagetest"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/paste", migrateURL("postgres://u:p@db:5432/paste"))
	assert.Equal(t, "pgx5://u@db/paste?sslmode=disable", migrateURL("postgresql://u@db/paste?sslmode=disable"))
	assert.Equal(t, "pgx5://db/paste", migrateURL("pgx5://db/paste"))
}

func TestIsDSN(t *testing.T) {
	assert.True(t, IsDSN("postgres://db/paste"))
	assert.True(t, IsDSN("postgresql://db/paste"))
	assert.False(t, IsDSN("libsql://paste.turso.io"))
	assert.False(t, IsDSN("data/pastes.db"))
}

// Runs against a live server when TINYPASTE_TEST_POSTGRES holds a DSN.
func TestStoreConformance(t *testing.T) {
	dsn := os.Getenv("TINYPASTE_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("TINYPASTE_TEST_POSTGRES not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		store, err := Open(ctx, dsn)
		require.NoError(t, err)
		_, err = store.pool.Exec(ctx, `TRUNCATE pastes`)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}
