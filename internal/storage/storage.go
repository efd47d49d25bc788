package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

//go:generate mockgen -destination=storagemock/store.go -package=storagemock . Store

var (
	// ErrNotFound is returned when a paste does not exist.
	ErrNotFound = errors.New("paste not found")
	// ErrDuplicateID is returned by Insert when the id is already taken.
	ErrDuplicateID = errors.New("paste id already exists")
)

// Paste represents a stored paste entry. Content is always canonical text.
type Paste struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	SecretKey string    `json:"secret_key"`
}

// Store defines the storage backend contract. Every mutating call is a
// single transaction: it either commits fully or leaves no trace.
type Store interface {
	// Insert writes a new paste. It never overwrites; an existing id yields ErrDuplicateID.
	Insert(ctx context.Context, paste *Paste) error
	Get(ctx context.Context, id string) (*Paste, error)
	// List returns up to limit pastes newest first (ties by id descending),
	// skipping offset, together with the total number of stored pastes.
	List(ctx context.Context, offset, limit int) ([]Paste, int, error)
	// GetMany returns the pastes that exist among ids, in the order of ids.
	GetMany(ctx context.Context, ids []string) ([]Paste, error)
	// Delete reports whether a paste was removed.
	Delete(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// UniqueIDs drops empty and repeated ids, keeping first occurrences.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// InRequestOrder arranges found pastes by their position in ids.
func InRequestOrder(ids []string, found map[string]Paste) []Paste {
	out := make([]Paste, 0, len(found))
	for _, id := range UniqueIDs(ids) {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
