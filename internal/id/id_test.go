package id

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	for _, length := range []int{PasteLength, SecretLength} {
		g := New(length)
		for i := 0; i < 200; i++ {
			v, err := g.Generate(context.Background())
			require.NoError(t, err)
			require.Len(t, v, length)
			for _, r := range v {
				assert.Truef(t, strings.ContainsRune(Alphabet, r), "unexpected symbol %q in %q", r, v)
			}
		}
	}
}

func TestGenerateDefaultLength(t *testing.T) {
	assert.Equal(t, PasteLength, New(0).length)
	assert.Equal(t, PasteLength, New(-3).length)
}

func TestGenerateDistinct(t *testing.T) {
	g := New(PasteLength)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		v, err := g.Generate(context.Background())
		require.NoError(t, err)
		_, dup := seen[v]
		require.False(t, dup, "duplicate id %s", v)
		seen[v] = struct{}{}
	}
}

func TestGenerateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(PasteLength).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
