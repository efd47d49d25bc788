// Package paste implements the paste operations on top of a storage backend:
// validation, normalization, identifier allocation, paging and merging.
package paste

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"tinypaste/internal/id"
	"tinypaste/internal/metrics"
	"tinypaste/internal/storage"
	"tinypaste/internal/text"
)

const (
	// DefaultPageSize applies when a caller passes a non-positive page size.
	DefaultPageSize = 20
	// MaxPageSize caps page sizes.
	MaxPageSize = 100
	// DefaultMaxBytes bounds canonical content when Options.MaxBytes is unset.
	DefaultMaxBytes = 1 << 20
	// PreviewRunes is the preview length used by list summaries and merges.
	PreviewRunes = 200

	maxAttempts  = 5
	mergeTimeFmt = "2006-01-02 15:04:05"
)

// Generator yields random identifiers.
type Generator interface {
	Generate(ctx context.Context) (string, error)
}

// Options tunes a Service. Zero values pick the defaults.
type Options struct {
	MaxBytes int
	IDs      Generator
	Secrets  Generator
	Now      func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	store    storage.Store
	ids      Generator
	secrets  Generator
	maxBytes int
	now      func() time.Time
}

// Summary is the list projection of a paste.
type Summary struct {
	ID        string    `json:"id"`
	Preview   string    `json:"preview"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one page of summaries, newest first.
type Page struct {
	Items      []Summary `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	Total      int       `json:"total"`
	TotalPages int       `json:"total_pages"`
}

// HasPrev reports whether an earlier page exists.
func (p Page) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a later page exists.
func (p Page) HasNext() bool { return p.Page < p.TotalPages }

// NewService builds a Service over store.
func NewService(store storage.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("store required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.IDs == nil {
		opts.IDs = id.New(id.PasteLength)
	}
	if opts.Secrets == nil {
		opts.Secrets = id.New(id.SecretLength)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		ids:      opts.IDs,
		secrets:  opts.Secrets,
		maxBytes: opts.MaxBytes,
		now:      opts.Now,
	}, nil
}

// MaxBytes reports the size limit for canonical content.
func (s *Service) MaxBytes() int {
	return s.maxBytes
}

// Create normalizes content and stores it under a fresh id.
func (s *Service) Create(ctx context.Context, content string) (string, error) {
	canonical := text.Normalize(content)
	if canonical == "" {
		return "", ErrEmptyContent
	}
	if len(canonical) > s.maxBytes {
		return "", ErrTooLarge
	}

	secret, err := s.secrets.Generate(ctx)
	if err != nil {
		return "", errors.Wrap(err, "generate secret key")
	}
	// Postgres keeps microseconds; truncating keeps every backend ordering alike.
	createdAt := s.now().UTC().Truncate(time.Microsecond)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		pid, err := s.ids.Generate(ctx)
		if err != nil {
			return "", errors.Wrap(err, "generate id")
		}
		err = s.store.Insert(ctx, &storage.Paste{
			ID:        pid,
			Content:   canonical,
			CreatedAt: createdAt,
			SecretKey: secret,
		})
		if err == nil {
			metrics.PastesCreated.Inc()
			return pid, nil
		}
		if !errors.Is(err, storage.ErrDuplicateID) {
			return "", errors.Wrap(err, "insert paste")
		}
		metrics.IDCollisions.Inc()
	}
	return "", ErrIDExhausted
}

// Get returns the stored content of a paste.
func (s *Service) Get(ctx context.Context, pid string) (string, error) {
	p, err := s.Paste(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.Content, nil
}

// Paste returns the full record of a paste.
func (s *Service) Paste(ctx context.Context, pid string) (*storage.Paste, error) {
	if pid == "" {
		return nil, ErrNotFound
	}
	p, err := s.store.Get(ctx, pid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get paste %s", pid)
	}
	return p, nil
}

// List returns a page of summaries. page < 1 is treated as 1; pageSize <= 0
// uses DefaultPageSize and is capped at MaxPageSize.
func (s *Service) List(ctx context.Context, page, pageSize int) (Page, error) {
	page, pageSize = clampPage(page, pageSize)

	items, total, err := s.store.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, errors.Wrap(err, "list pastes")
	}

	out := Page{
		Items:      make([]Summary, 0, len(items)),
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages(total, pageSize),
	}
	for _, p := range items {
		out.Items = append(out.Items, summarize(p))
	}
	return out, nil
}

// GetMany returns the existing pastes among ids in request order.
func (s *Service) GetMany(ctx context.Context, ids []string) ([]storage.Paste, error) {
	ids = storage.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get pastes")
	}
	return items, nil
}

// Delete reports whether a paste was removed. Absence is not an error.
func (s *Service) Delete(ctx context.Context, pid string) (bool, error) {
	if pid == "" {
		return false, nil
	}
	removed, err := s.store.Delete(ctx, pid)
	if err != nil {
		return false, errors.Wrapf(err, "delete paste %s", pid)
	}
	if removed {
		metrics.PastesDeleted.Inc()
	}
	return removed, nil
}

// Merge concatenates the selected pastes, each under a header naming its id
// and creation time, into a new paste. Sources are left untouched.
func (s *Service) Merge(ctx context.Context, ids []string) (string, string, error) {
	ids = storage.UniqueIDs(ids)
	if len(ids) == 0 {
		return "", "", ErrEmptySelection
	}
	sources, err := s.GetMany(ctx, ids)
	if err != nil {
		return "", "", err
	}
	if len(sources) == 0 {
		return "", "", ErrNothingFound
	}

	merged := strings.TrimSpace(MergeContent(sources))
	pid, err := s.Create(ctx, merged)
	if err != nil {
		return "", "", err
	}
	metrics.PastesMerged.Inc()
	return pid, text.Preview(text.Normalize(merged), PreviewRunes), nil
}

// Count returns the number of stored pastes.
func (s *Service) Count(ctx context.Context) (int, error) {
	_, total, err := s.store.List(ctx, 0, 0)
	if err != nil {
		return 0, errors.Wrap(err, "count pastes")
	}
	return total, nil
}

// Ping checks the backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// MergeContent renders sources in order, untrimmed.
func MergeContent(sources []storage.Paste) string {
	var b strings.Builder
	for _, p := range sources {
		b.WriteString("\n\n--- [")
		b.WriteString(p.ID)
		b.WriteString("] ")
		b.WriteString(p.CreatedAt.UTC().Format(mergeTimeFmt))
		b.WriteString(" ---\n")
		b.WriteString(p.Content)
	}
	return b.String()
}

func summarize(p storage.Paste) Summary {
	return Summary{
		ID:        p.ID,
		Preview:   text.Preview(p.Content, PreviewRunes),
		Length:    text.RuneLen(p.Content),
		CreatedAt: p.CreatedAt,
	}
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func totalPages(total, pageSize int) int {
	if total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
