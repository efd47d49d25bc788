// Package storagetest holds the behaviour every storage.Store backend must share.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypaste/internal/storage"
)

// Run exercises a backend. open must return an empty store; it is called once per subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("InsertGetDelete", func(t *testing.T) { testInsertGetDelete(t, open(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, open(t)) })
	t.Run("ContentBytesPreserved", func(t *testing.T) { testContentBytes(t, open(t)) })
	t.Run("ListOrderAndPaging", func(t *testing.T) { testList(t, open(t)) })
	t.Run("GetManyOrder", func(t *testing.T) { testGetMany(t, open(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, open(t).Ping(context.Background())) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func paste(id string, offset time.Duration, content string) *storage.Paste {
	return &storage.Paste{
		ID:        id,
		Content:   content,
		CreatedAt: base.Add(offset),
		SecretKey: "secret" + id,
	}
}

func testInsertGetDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, paste("abc123", 0, "hello")))

	out, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, "secretabc123", out.SecretKey)
	assert.True(t, base.Equal(out.CreatedAt), "created_at %v", out.CreatedAt)

	removed, err := s.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s.Get(ctx, "abc123")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	removed, err = s.Delete(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, removed)

	items, total, err := s.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func testDuplicateID(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, paste("dup", 0, "first")))

	err := s.Insert(ctx, paste("dup", time.Second, "second"))
	assert.ErrorIs(t, err, storage.ErrDuplicateID)

	out, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "first", out.Content)

	_, total, err := s.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func testContentBytes(t *testing.T, s storage.Store) {
	ctx := context.Background()
	content := "tab\there\nкириллица 世界 ✓\n\n  indented"
	require.NoError(t, s.Insert(ctx, paste("bytes", 0, content)))

	out, err := s.Get(ctx, "bytes")
	require.NoError(t, err)
	assert.Equal(t, []byte(content), []byte(out.Content))
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 7
	for i := 0; i < n; i++ {
		require.NoError(t, s.Insert(ctx, paste(fmt.Sprintf("p%02d", i), time.Duration(i)*time.Minute, "x")))
	}
	// same timestamp as p06: ties order by id descending
	require.NoError(t, s.Insert(ctx, paste("p99", 6*time.Minute, "x")))

	var got []string
	for offset := 0; ; offset += 3 {
		items, total, err := s.List(ctx, offset, 3)
		require.NoError(t, err)
		require.Equal(t, n+1, total)
		if len(items) == 0 {
			break
		}
		for _, it := range items {
			got = append(got, it.ID)
		}
	}
	assert.Equal(t, []string{"p99", "p06", "p05", "p04", "p03", "p02", "p01", "p00"}, got)

	items, total, err := s.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, n+1, total)
	assert.Empty(t, items)
}

func testGetMany(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, paste("aaa", 0, "A")))
	require.NoError(t, s.Insert(ctx, paste("bbb", time.Minute, "B")))
	require.NoError(t, s.Insert(ctx, paste("ccc", 2*time.Minute, "C")))

	got, err := s.GetMany(ctx, []string{"ccc", "nope", "aaa", "bbb", "aaa"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "ccc", got[0].ID)
	assert.Equal(t, "aaa", got[1].ID)
	assert.Equal(t, "bbb", got[2].ID)
	assert.Equal(t, "A", got[1].Content)

	none, err := s.GetMany(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
