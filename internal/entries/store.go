// Package entries stores feed entries and enforces link uniqueness and retention.
package entries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rss_reader/internal/model"
	"rss_reader/internal/storage"
)

// Backend is the persistence needed by the entry store.
type Backend interface {
	EntryExists(ctx context.Context, link string) (bool, error)
	CreateEntry(ctx context.Context, e *model.Entry) error
	GetEntry(ctx context.Context, id int64) (*model.Entry, error)
	ListEntries(ctx context.Context, q model.EntryQuery) ([]model.Entry, error)
	CountEntries(ctx context.Context, q model.EntryQuery) (int, error)
	SetEntryBookmarked(ctx context.Context, id int64, bookmarked bool) error
	DeleteEntry(ctx context.Context, id int64) error
	DeleteEntriesBySource(ctx context.Context, sourceID int64) (int64, error)
	DeleteAllEntries(ctx context.Context) (int64, error)
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error)
	TrimEntries(ctx context.Context, keep int) (int64, error)
}

// Sanitizer cleans untrusted HTML.
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	Expired int64
	Trimmed int64
}

// Store adds, queries and removes entries.
type Store struct {
	backend    Backend
	sanitizer  Sanitizer
	log        *slog.Logger
	now        func() time.Time
	maxEntries int
}

// New creates a Store. sanitizer may be nil to store descriptions verbatim.
func New(backend Backend, sanitizer Sanitizer, log *slog.Logger) *Store {
	return &Store{
		backend:   backend,
		sanitizer: sanitizer,
		log:       log,
		now:       time.Now,
	}
}

// SetMaxEntries caps the number of unprotected entries kept by Cleanup.
// Zero disables the cap.
func (s *Store) SetMaxEntries(n int) {
	s.maxEntries = n
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Exists reports whether an entry with link is stored.
func (s *Store) Exists(ctx context.Context, link string) (bool, error) {
	return s.backend.EntryExists(ctx, strings.TrimSpace(link))
}

// Add stores raw as an entry of src. It returns nil without error when the
// link is already stored or raw has no link.
func (s *Store) Add(ctx context.Context, raw model.RawEntry, src *model.Source) (*model.Entry, error) {
	e := s.normalize(raw, src)
	if e.Link == "" {
		s.log.Warn("skip entry without link", "source_id", src.ID, "title", e.Title)
		return nil, nil
	}

	exists, err := s.backend.EntryExists(ctx, e.Link)
	if err != nil {
		s.log.Error("check entry", "link", e.Link, "error", err)
		return nil, fmt.Errorf("check entry: %w", err)
	}
	if exists {
		s.log.Debug("entry already stored", "link", e.Link)
		return nil, nil
	}

	if err := s.backend.CreateEntry(ctx, e); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.log.Debug("entry stored concurrently", "link", e.Link)
			return nil, nil
		}
		s.log.Error("add entry", "source_id", src.ID, "link", e.Link, "error", err)
		return nil, fmt.Errorf("add entry: %w", err)
	}
	return e, nil
}

func (s *Store) normalize(raw model.RawEntry, src *model.Source) *model.Entry {
	desc := strings.TrimSpace(raw.Description)
	if s.sanitizer != nil {
		desc = s.sanitizer.Sanitize(desc)
	}
	return &model.Entry{
		Link:               strings.TrimSpace(raw.Link),
		SourceID:           src.ID,
		SourceURL:          src.URL,
		Title:              strings.TrimSpace(raw.Title),
		Description:        desc,
		Author:             strings.TrimSpace(raw.Author),
		Thumbnail:          strings.TrimSpace(raw.Thumbnail),
		Language:           strings.TrimSpace(raw.Language),
		Album:              strings.TrimSpace(raw.Album),
		DatePublished:      raw.DatePublished,
		DateLastModified:   raw.DateLastModified,
		DateCreated:        s.now().UTC(),
		StatusCode:         raw.StatusCode,
		PageRating:         raw.PageRating,
		PageRatingVotes:    raw.PageRatingVotes,
		PageRatingContents: raw.PageRatingContents,
		PageRatingVisits:   raw.PageRatingVisits,
		Age:                raw.Age,
	}
}

// DeleteBySource removes every entry of src.
func (s *Store) DeleteBySource(ctx context.Context, src *model.Source) (int64, error) {
	n, err := s.backend.DeleteEntriesBySource(ctx, src.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debug("source entries removed", "source_id", src.ID, "count", n)
	}
	return n, nil
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, id int64) (*model.Entry, error) {
	return s.backend.GetEntry(ctx, id)
}

// Query returns a page of entries.
func (s *Store) Query(ctx context.Context, q model.EntryQuery) ([]model.Entry, error) {
	return s.backend.ListEntries(ctx, q)
}

// Count returns the number of entries matching q.
func (s *Store) Count(ctx context.Context, q model.EntryQuery) (int, error) {
	return s.backend.CountEntries(ctx, q)
}

// SetBookmarked marks or unmarks an entry as bookmarked.
func (s *Store) SetBookmarked(ctx context.Context, id int64, bookmarked bool) error {
	return s.backend.SetEntryBookmarked(ctx, id, bookmarked)
}

// Delete removes a single entry.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.backend.DeleteEntry(ctx, id)
}

// RemoveAll deletes every entry.
func (s *Store) RemoveAll(ctx context.Context) (int64, error) {
	n, err := s.backend.DeleteAllEntries(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("all entries removed", "count", n)
	return n, nil
}

// Cleanup drops entries past their source's retention and, when a cap is
// set, the oldest entries above it. Bookmarked and permanent entries stay.
func (s *Store) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult

	n, err := s.backend.DeleteExpiredEntries(ctx, s.now())
	if err != nil {
		return res, fmt.Errorf("cleanup expired: %w", err)
	}
	res.Expired = n

	if s.maxEntries > 0 {
		n, err := s.backend.TrimEntries(ctx, s.maxEntries)
		if err != nil {
			return res, fmt.Errorf("cleanup trim: %w", err)
		}
		res.Trimmed = n
	}

	if res.Expired > 0 || res.Trimmed > 0 {
		s.log.Info("entries cleaned up", "expired", res.Expired, "trimmed", res.Trimmed)
	}
	return res, nil
}
