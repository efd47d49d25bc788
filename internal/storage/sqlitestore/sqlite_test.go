package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypaste/internal/storage"
	"tinypaste/internal/storage/storagetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return openTemp(t) })
}

func TestGetManyAcrossChunks(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var ids []string
	for i := 0; i < maxParams+20; i++ {
		id := fmt.Sprintf("id%04d", i)
		require.NoError(t, store.Insert(ctx, &storage.Paste{ID: id, Content: id, CreatedAt: now, SecretKey: "k"}))
		ids = append(ids, id)
	}
	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}

	got, err := store.GetMany(ctx, reversed)
	require.NoError(t, err)
	require.Len(t, got, len(ids))
	assert.Equal(t, reversed[0], got[0].ID)
	assert.Equal(t, reversed[len(reversed)-1], got[len(got)-1].ID)
}
