package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"tinypaste/internal/storage"
)

var (
	pasteBucket   = []byte("pastes")
	createdBucket = []byte("created")
)

var errBuckets = errors.New("buckets not initialized")

// Store implements storage.Store backed by BoltDB.
type Store struct {
	db *bolt.DB
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pasteBucket); err != nil {
			return errors.Wrap(err, "create paste bucket")
		}
		if _, err := tx.CreateBucketIfNotExists(createdBucket); err != nil {
			return errors.Wrap(err, "create index bucket")
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Insert stores a new paste and its creation-time index entry in one transaction.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	paste.CreatedAt = paste.CreatedAt.UTC()
	data, err := json.Marshal(paste)
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		pBucket, cBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		if pBucket.Get([]byte(paste.ID)) != nil {
			return storage.ErrDuplicateID
		}
		if err := pBucket.Put([]byte(paste.ID), data); err != nil {
			return errors.Wrap(err, "save paste")
		}
		if err := cBucket.Put(createdKey(paste.CreatedAt, paste.ID), []byte(paste.ID)); err != nil {
			return errors.Wrap(err, "index paste")
		}
		return nil
	})
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *storage.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errBuckets
		}
		paste, err := decode(bucket.Get([]byte(id)))
		if err != nil {
			return err
		}
		out = paste
		return nil
	})

	return out, err
}

// List walks the creation index from newest to oldest.
func (s *Store) List(ctx context.Context, offset, limit int) ([]storage.Paste, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}

	var (
		out   []storage.Paste
		total int
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		pBucket, cBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		total = pBucket.Stats().KeyN
		if limit <= 0 {
			return nil
		}

		out = make([]storage.Paste, 0, limit)
		skipped := 0
		cursor := cBucket.Cursor()
		for key, val := cursor.Last(); key != nil && len(out) < limit; key, val = cursor.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			paste, err := decode(pBucket.Get(val))
			if err != nil {
				return errors.Wrapf(err, "load indexed paste %s", val)
			}
			out = append(out, *paste)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetMany loads the existing subset of ids in request order.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []storage.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errBuckets
		}
		for _, id := range storage.UniqueIDs(ids) {
			raw := bucket.Get([]byte(id))
			if raw == nil {
				continue
			}
			paste, err := decode(raw)
			if err != nil {
				return err
			}
			out = append(out, *paste)
		}
		return nil
	})
	return out, err
}

// Delete removes a paste and its index entry.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	removed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		pBucket, cBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		raw := pBucket.Get([]byte(id))
		if raw == nil {
			return nil
		}
		paste, err := decode(raw)
		if err != nil {
			return err
		}
		if err := cBucket.Delete(createdKey(paste.CreatedAt, paste.ID)); err != nil {
			return errors.Wrap(err, "delete index entry")
		}
		if err := pBucket.Delete([]byte(id)); err != nil {
			return errors.Wrap(err, "delete paste")
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Ping checks that the database file is open and readable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		_, _, err := buckets(tx)
		return err
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	pBucket := tx.Bucket(pasteBucket)
	cBucket := tx.Bucket(createdBucket)
	if pBucket == nil || cBucket == nil {
		return nil, nil, errBuckets
	}
	return pBucket, cBucket, nil
}

func decode(raw []byte) (*storage.Paste, error) {
	if raw == nil {
		return nil, storage.ErrNotFound
	}
	var paste storage.Paste
	if err := json.Unmarshal(raw, &paste); err != nil {
		return nil, errors.Wrap(err, "unmarshal paste")
	}
	return &paste, nil
}

// createdKey sorts by creation time, then id, under bbolt's byte ordering.
func createdKey(t time.Time, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UTC().UnixNano()))
	copy(key[8:], id)
	return key
}
