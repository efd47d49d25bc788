package cachestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypaste/internal/storage"
	"tinypaste/internal/storage/boltstore"
	"tinypaste/internal/storage/storagetest"
)

type countingStore struct {
	storage.Store
	gets atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, id string) (*storage.Paste, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, id)
}

func openBackend(t *testing.T) *countingStore {
	t.Helper()
	backend, err := boltstore.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	return &countingStore{Store: backend}
}

func openCache(t *testing.T, opts Options) (*Store, *countingStore) {
	t.Helper()
	backend := openBackend(t)
	store, err := New(backend, opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, backend
}

// hub delivers announcements synchronously to every subscriber.
type hub struct {
	mu     sync.Mutex
	subs   map[int]func(string)
	resets map[int]func()
	next   int
}

func newHub() *hub {
	return &hub{subs: make(map[int]func(string)), resets: make(map[int]func())}
}

func (h *hub) Publish(_ context.Context, id string) error {
	h.mu.Lock()
	subs := make([]func(string), 0, len(h.subs))
	for _, evict := range h.subs {
		subs = append(subs, evict)
	}
	h.mu.Unlock()
	for _, evict := range subs {
		evict(id)
	}
	return nil
}

func (h *hub) Subscribe(evict func(string), reset func()) func() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.next
	h.next++
	h.subs[n] = evict
	h.resets[n] = reset
	return func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, n)
		delete(h.resets, n)
		return nil
	}
}

func (h *hub) resetAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, reset := range h.resets {
		reset()
	}
}

// instances builds n caches over one backend, as n processes sharing a database would.
func instances(t *testing.T, n int, peers Peers) []*Store {
	t.Helper()
	backend := openBackend(t)
	t.Cleanup(func() { backend.Close() })
	out := make([]*Store, n)
	for i := range out {
		s, err := New(nopClose{backend}, Options{Size: 16, Shared: true, Peers: peers})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		out[i] = s
	}
	return out
}

// nopClose leaves the shared backend open when one instance closes.
type nopClose struct {
	storage.Store
}

func (nopClose) Close() error { return nil }

func TestStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, _ := openCache(t, Options{Size: 16})
		return store
	})
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(nil, Options{Size: 1})
	assert.Error(t, err)

	_, err = New(openBackend(t), Options{})
	assert.Error(t, err)
}

func TestGetServedFromCache(t *testing.T) {
	store, backend := openCache(t, Options{Size: 16})
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &storage.Paste{ID: "abc", Content: "hello", CreatedAt: time.Now(), SecretKey: "k"}))

	for i := 0; i < 3; i++ {
		p, err := store.Get(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "hello", p.Content)
	}
	assert.EqualValues(t, 1, backend.gets.Load())
	assert.Equal(t, 1, store.lru.Len())
}

func TestCachedCopyIsIsolated(t *testing.T) {
	store, _ := openCache(t, Options{Size: 16})
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &storage.Paste{ID: "abc", Content: "hello", CreatedAt: time.Now(), SecretKey: "k"}))

	p, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	p.Content = "mutated"

	again, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Content)
}

func TestDeleteInvalidates(t *testing.T) {
	store, _ := openCache(t, Options{Size: 16})
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &storage.Paste{ID: "abc", Content: "hello", CreatedAt: time.Now(), SecretKey: "k"}))

	_, err := store.Get(ctx, "abc")
	require.NoError(t, err)

	removed, err := store.Delete(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Zero(t, store.lru.Len())

	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteEvictsPeerInstances(t *testing.T) {
	h := newHub()
	nodes := instances(t, 2, h)
	a, b := nodes[0], nodes[1]
	ctx := context.Background()
	require.NoError(t, a.Insert(ctx, &storage.Paste{ID: "p1", Content: "shared", CreatedAt: time.Now(), SecretKey: "k"}))

	_, err := b.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 1, b.lru.Len())

	removed, err := a.Delete(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = b.Get(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, b.lru.Len())
}

func TestPeerResetPurges(t *testing.T) {
	h := newHub()
	nodes := instances(t, 1, h)
	ctx := context.Background()
	require.NoError(t, nodes[0].Insert(ctx, &storage.Paste{ID: "p1", Content: "x", CreatedAt: time.Now(), SecretKey: "k"}))
	_, err := nodes[0].Get(ctx, "p1")
	require.NoError(t, err)

	h.resetAll()
	assert.Zero(t, nodes[0].lru.Len())
}

func TestCloseStopsSubscription(t *testing.T) {
	h := newHub()
	s, err := New(openBackend(t), Options{Size: 4, Peers: h})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.subs)
}

func TestSharedBackendRequiresPeers(t *testing.T) {
	backend := openBackend(t)
	t.Cleanup(func() { backend.Close() })
	_, err := New(backend, Options{Size: 16, Shared: true})
	assert.ErrorIs(t, err, errSharedWithoutPeers)
}

func TestMissesAreNotCached(t *testing.T) {
	store, backend := openCache(t, Options{Size: 16})
	ctx := context.Background()

	_, err := store.Get(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, store.Insert(ctx, &storage.Paste{ID: "ghost", Content: "boo", CreatedAt: time.Now(), SecretKey: "k"}))

	p, err := store.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "boo", p.Content)
	assert.EqualValues(t, 2, backend.gets.Load())
}

func TestConcurrentGetAndDelete(t *testing.T) {
	store, _ := openCache(t, Options{Size: 16})
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, &storage.Paste{ID: "abc", Content: "hello", CreatedAt: time.Now(), SecretKey: "k"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = store.Get(ctx, "abc")
			}
		}()
	}
	_, err := store.Delete(ctx, "abc")
	require.NoError(t, err)
	wg.Wait()

	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// Runs against a live server when TINYPASTE_TEST_REDIS holds a redis:// URL.
func TestRedisLayer(t *testing.T) {
	url := os.Getenv("TINYPASTE_TEST_REDIS")
	if url == "" {
		t.Skip("TINYPASTE_TEST_REDIS not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)

	store, backend := openCache(t, Options{Size: 1, Redis: client, TTL: time.Minute})
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Insert(ctx, &storage.Paste{ID: "redis1", Content: "one", CreatedAt: time.Now(), SecretKey: "k"}))
	require.NoError(t, store.Insert(ctx, &storage.Paste{ID: "redis2", Content: "two", CreatedAt: time.Now(), SecretKey: "k"}))

	_, err = store.Get(ctx, "redis1")
	require.NoError(t, err)
	// evicts redis1 from the single-slot LRU; Redis still holds it
	_, err = store.Get(ctx, "redis2")
	require.NoError(t, err)
	p, err := store.Get(ctx, "redis1")
	require.NoError(t, err)
	assert.Equal(t, "one", p.Content)
	assert.EqualValues(t, 2, backend.gets.Load())

	for _, id := range []string{"redis1", "redis2"} {
		_, err := store.Delete(ctx, id)
		require.NoError(t, err)
		_, err = client.Get(ctx, keyPrefix+id).Result()
		assert.ErrorIs(t, err, redis.Nil)
	}
}

func TestRedisPeersEvictAcrossInstances(t *testing.T) {
	url := os.Getenv("TINYPASTE_TEST_REDIS")
	if url == "" {
		t.Skip("TINYPASTE_TEST_REDIS not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)

	backend := openBackend(t)
	t.Cleanup(func() { backend.Close() })
	nodes := make([]*Store, 2)
	for i := range nodes {
		s, err := New(nopClose{backend}, Options{Size: 16, Shared: true, Redis: redis.NewClient(opt)})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		nodes[i] = s
	}
	a, b := nodes[0], nodes[1]
	ctx := context.Background()
	require.NoError(t, a.Insert(ctx, &storage.Paste{ID: "peer1", Content: "x", CreatedAt: time.Now(), SecretKey: "k"}))

	_, err = b.Get(ctx, "peer1")
	require.NoError(t, err)
	_, err = a.Delete(ctx, "peer1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := b.Get(ctx, "peer1")
		return errors.Is(err, storage.ErrNotFound)
	}, 2*time.Second, 20*time.Millisecond)
}
