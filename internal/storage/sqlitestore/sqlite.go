package sqlitestore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"tinypaste/internal/storage"
)

// SQLite caps bound parameters per statement; GetMany queries in chunks below it.
const maxParams = 500

// Store implements storage.Store using SQLite, or libsql for remote Turso databases.
type Store struct {
	db *sql.DB
}

// Open initializes the database at dsn. A libsql:// or wss:// dsn selects the
// libsql driver; anything else is a local SQLite path or file: URI.
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") {
		driver = "libsql"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	if driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY on concurrent inserts
		db.SetMaxOpenConns(1)
	}
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initialize(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pastes (
    id TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    secret_key TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_pastes_created_at ON pastes (created_at DESC, id DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

// Insert adds a paste; a conflicting id leaves the table untouched.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	paste.CreatedAt = paste.CreatedAt.UTC()

	const q = `
INSERT INTO pastes (id, content, created_at, secret_key)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	res, err := s.db.ExecContext(ctx, q,
		paste.ID,
		[]byte(paste.Content),
		paste.CreatedAt.UnixNano(),
		paste.SecretKey,
	)
	if err != nil {
		return errors.Wrap(err, "insert paste")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return storage.ErrDuplicateID
	}
	return nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	const q = `SELECT id, content, created_at, secret_key FROM pastes WHERE id = ?;`
	paste, err := scan(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "query paste")
	}
	return paste, nil
}

// List reads the count and the requested page inside one transaction.
func (s *Store) List(ctx context.Context, offset, limit int) ([]storage.Paste, int, error) {
	if offset < 0 {
		offset = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "begin list")
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pastes;`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count pastes")
	}
	if limit <= 0 {
		return nil, total, tx.Commit()
	}

	const q = `
SELECT id, content, created_at, secret_key FROM pastes
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?;
`
	rows, err := tx.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list pastes")
	}
	defer rows.Close()

	out := make([]storage.Paste, 0, limit)
	for rows.Next() {
		paste, err := scan(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan paste")
		}
		out = append(out, *paste)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "iterate pastes")
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, errors.Wrap(err, "commit list")
	}
	return out, total, nil
}

// GetMany loads the existing subset of ids and restores request order.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]storage.Paste, error) {
	ids = storage.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	found := make(map[string]storage.Paste, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := `SELECT id, content, created_at, secret_key FROM pastes WHERE id IN (?` +
			strings.Repeat(",?", len(chunk)-1) + `);`

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, errors.Wrap(err, "query pastes")
		}
		for rows.Next() {
			paste, err := scan(rows)
			if err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scan paste")
			}
			found[paste.ID] = *paste
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.Wrap(err, "iterate pastes")
		}
	}
	return storage.InRequestOrder(ids, found), nil
}

// Delete removes a paste by id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pastes WHERE id = ?;`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete paste")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return rows > 0, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*storage.Paste, error) {
	var (
		paste   storage.Paste
		content []byte
		created int64
	)
	if err := row.Scan(&paste.ID, &content, &created, &paste.SecretKey); err != nil {
		return nil, err
	}
	paste.Content = string(content)
	paste.CreatedAt = time.Unix(0, created).UTC()
	return &paste, nil
}
