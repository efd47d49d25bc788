// Package cachestore decorates a storage.Store with a read-through cache for
// single-paste lookups: an in-process LRU, optionally backed by Redis so
// several instances share warm entries.
//
// When other processes can delete from the same backend, every instance must
// hear about it before its LRU may be trusted, so a shared backend requires
// Peers (implied by Redis).
package cachestore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"tinypaste/internal/metrics"
	"tinypaste/internal/storage"
)

const keyPrefix = "paste:"

// Options configures the cache layers.
type Options struct {
	// Size is the LRU capacity in pastes.
	Size int
	// Redis is optional; nil keeps the cache process-local.
	Redis *redis.Client
	// TTL bounds how long a Redis entry lives. Zero means one hour.
	TTL time.Duration
	// Timeout bounds each Redis round trip. Zero means 500ms.
	Timeout time.Duration
	// Shared marks a backend other processes write to, such as PostgreSQL.
	Shared bool
	// Peers carries deletions between instances. Nil with Redis set means
	// RedisPeers(Redis).
	Peers Peers
}

var errSharedWithoutPeers = errors.New("shared backend needs peers or redis to keep the cache coherent")

// Store serves Get from cache and delegates everything else to the backend.
type Store struct {
	storage.Store

	lru     *lru.Cache[string, storage.Paste]
	redis   *redis.Client
	ttl     time.Duration
	timeout time.Duration
	peers   Peers
	stop    func() error

	// mu orders cache fills against deletes so a fill never resurrects a deleted paste.
	mu sync.RWMutex
}

// New wraps backend.
func New(backend storage.Store, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is nil")
	}
	if opts.Size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	c, err := lru.New[string, storage.Paste](opts.Size)
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.Peers == nil && opts.Redis != nil {
		opts.Peers = RedisPeers(opts.Redis)
	}
	if opts.Shared && opts.Peers == nil {
		return nil, errSharedWithoutPeers
	}
	s := &Store{
		Store:   backend,
		lru:     c,
		redis:   opts.Redis,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		peers:   opts.Peers,
	}
	if s.peers != nil {
		s.stop = s.peers.Subscribe(s.evict, s.reset)
	}
	return s, nil
}

// Get returns a cached copy when present, else loads from the backend and fills the cache.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	if p, ok := s.lru.Get(id); ok {
		metrics.CacheHits.Inc()
		return &p, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.fromRedis(ctx, id); ok {
		metrics.CacheHits.Inc()
		s.lru.Add(id, *p)
		return p, nil
	}
	metrics.CacheMisses.Inc()

	p, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.lru.Add(id, *p)
	s.toRedis(ctx, p)
	return p, nil
}

// Delete removes the paste from the backend and every cache layer, then
// tells the other instances to drop it too.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := s.deleteLocal(ctx, id)
	if err != nil || s.peers == nil {
		return removed, err
	}
	return removed, s.peers.Publish(ctx, id)
}

func (s *Store) deleteLocal(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.Store.Delete(ctx, id)
	s.lru.Remove(id)
	if rerr := s.dropRedis(ctx, id); rerr != nil && err == nil {
		return removed, rerr
	}
	return removed, err
}

// evict handles a deletion announced by any instance, this one included.
// Taking the write lock waits out fills that read the paste before it was
// deleted, and the Redis key is dropped again in case such a fill rewrote it.
func (s *Store) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(id)
	_ = s.dropRedis(context.Background(), id)
}

func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
}

func (s *Store) dropRedis(ctx context.Context, id string) error {
	if s.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return errors.Wrap(s.redis.Del(ctx, keyPrefix+id).Err(), "evict paste from redis")
}

// Ping checks the backend and, when configured, Redis.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.Store.Ping(ctx); err != nil {
		return err
	}
	if s.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return errors.Wrap(s.redis.Ping(ctx).Err(), "ping redis")
}

// Close ends the peer subscription, then closes the backend and the Redis client.
func (s *Store) Close() error {
	var err error
	if s.stop != nil {
		err = s.stop()
	}
	if berr := s.Store.Close(); berr != nil && err == nil {
		err = berr
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil && err == nil {
			err = errors.Wrap(rerr, "close redis")
		}
	}
	return err
}

// fromRedis treats every Redis failure as a miss; the backend stays authoritative.
func (s *Store) fromRedis(ctx context.Context, id string) (*storage.Paste, bool) {
	if s.redis == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.redis.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		return nil, false
	}
	var p storage.Paste
	if err := json.Unmarshal(data, &p); err != nil || p.ID != id {
		return nil, false
	}
	return &p, true
}

func (s *Store) toRedis(ctx context.Context, p *storage.Paste) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_ = s.redis.Set(ctx, keyPrefix+p.ID, data, s.ttl).Err()
}
