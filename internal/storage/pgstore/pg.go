// Package pgstore keeps pastes in PostgreSQL through a pgx connection pool.
package pgstore

import (
	"context"
	"embed"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"tinypaste/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements storage.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// IsDSN reports whether dsn names a PostgreSQL database.
func IsDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	return &Store{pool: pool}, nil
}

// Migrate brings the schema up to date. Running it on a current schema is a no-op.
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return errors.Wrap(err, "init migrations")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// migrateURL switches the scheme to the one the pgx/v5 migrate driver registers.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// Insert adds a paste; a conflicting id leaves the row untouched.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	paste.CreatedAt = paste.CreatedAt.UTC()

	query := `INSERT INTO pastes (id, content, created_at, secret_key)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, paste.ID, paste.Content, paste.CreatedAt, paste.SecretKey)
	if err != nil {
		return errors.Wrap(err, "insert paste")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateID
	}
	return nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	query := `SELECT id, content, created_at, secret_key FROM pastes WHERE id = $1`
	paste, err := scan(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "query paste")
	}
	return paste, nil
}

// List reads the count and the page from one read-only snapshot.
func (s *Store) List(ctx context.Context, offset, limit int) ([]storage.Paste, int, error) {
	if offset < 0 {
		offset = 0
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "begin list")
	}
	defer tx.Rollback(ctx)

	var total int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM pastes`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count pastes")
	}
	if limit <= 0 {
		return nil, total, tx.Commit(ctx)
	}

	query := `SELECT id, content, created_at, secret_key FROM pastes
              ORDER BY created_at DESC, id DESC
              LIMIT $1 OFFSET $2`
	rows, err := tx.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list pastes")
	}
	out, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, errors.Wrap(err, "commit list")
	}
	return out, total, nil
}

// GetMany loads the existing subset of ids in request order.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]storage.Paste, error) {
	ids = storage.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, content, created_at, secret_key FROM pastes WHERE id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query pastes")
	}
	items, err := collect(rows)
	if err != nil {
		return nil, err
	}

	found := make(map[string]storage.Paste, len(items))
	for _, p := range items {
		found[p.ID] = p
	}
	return storage.InRequestOrder(ids, found), nil
}

// Delete removes a paste by id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pastes WHERE id = $1`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete paste")
	}
	return tag.RowsAffected() > 0, nil
}

// Ping checks the pool can reach the server.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scan(row pgx.Row) (*storage.Paste, error) {
	var paste storage.Paste
	if err := row.Scan(&paste.ID, &paste.Content, &paste.CreatedAt, &paste.SecretKey); err != nil {
		return nil, err
	}
	paste.CreatedAt = paste.CreatedAt.UTC()
	return &paste, nil
}

func collect(rows pgx.Rows) ([]storage.Paste, error) {
	defer rows.Close()

	var out []storage.Paste
	for rows.Next() {
		paste, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan paste")
		}
		out = append(out, *paste)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate pastes")
	}
	return out, nil
}

