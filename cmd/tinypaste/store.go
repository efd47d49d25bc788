package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"tinypaste/internal/config"
	"tinypaste/internal/storage"
	"tinypaste/internal/storage/boltstore"
	"tinypaste/internal/storage/cachestore"
	"tinypaste/internal/storage/pgstore"
	"tinypaste/internal/storage/sqlitestore"
)

// openBackend picks the backend from DATABASE_URL, falling back to the bbolt
// file at DATA_PATH.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Store, string, error) {
	dsn := cfg.DatabaseURL
	switch {
	case dsn == "":
		s, err := boltstore.Open(cfg.DataPath)
		return s, "bolt", err
	case pgstore.IsDSN(dsn):
		s, err := pgstore.Open(ctx, dsn)
		return s, "postgres", err
	case strings.HasPrefix(dsn, "libsql://"), strings.HasPrefix(dsn, "wss://"):
		s, err := sqlitestore.Open(dsn)
		return s, "libsql", err
	case strings.HasPrefix(dsn, "sqlite:"), strings.HasPrefix(dsn, "file:"):
		s, err := sqlitestore.Open(sqlitePath(dsn))
		return s, "sqlite", err
	default:
		return nil, "", errors.Errorf("unsupported DATABASE_URL scheme in %q", redactDSN(dsn))
	}
}

// openStore opens the backend and wraps it in the read cache unless
// CACHE_SIZE is zero.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, string, error) {
	backend, kind, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, "", errors.Wrap(err, "open store")
	}
	store, err := wrapCache(backend, kind, cfg)
	if err != nil {
		backend.Close()
		return nil, "", err
	}
	return store, kind, nil
}

// wrapCache adds the read cache. A backend other processes can delete from
// is only cached when Redis is there to carry evictions between them.
func wrapCache(backend storage.Store, kind string, cfg *config.Config) (storage.Store, error) {
	shared := isShared(kind)
	if cfg.CacheSize == 0 || (shared && cfg.RedisURL == "") {
		return backend, nil
	}

	opts := cachestore.Options{Size: cfg.CacheSize, Shared: shared}
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse REDIS_URL")
		}
		opts.Redis = redis.NewClient(ropts)
	}
	cached, err := cachestore.New(backend, opts)
	if err != nil {
		if opts.Redis != nil {
			opts.Redis.Close()
		}
		return nil, err
	}
	return cached, nil
}

func isShared(kind string) bool {
	return kind == "postgres" || kind == "libsql"
}

// sqlitePath accepts sqlite:path as well as the SQLAlchemy forms
// sqlite:///relative.db and sqlite:////absolute.db.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "sqlite:")
	if strings.HasPrefix(path, "//") {
		path = strings.TrimPrefix(path[2:], "/")
	}
	return path
}

// redactDSN keeps credentials out of logs and errors.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "<redacted>"
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}
