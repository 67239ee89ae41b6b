// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"rss_reader/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("duplicate")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	GetSourceByURL(ctx context.Context, url string) (*model.Source, error)
	ListSources(ctx context.Context, q model.SourceQuery) ([]model.Source, error)
	CountSources(ctx context.Context, q model.SourceQuery) (int, error)
	ListSourceIDs(ctx context.Context) ([]int64, error)
	UpdateSource(ctx context.Context, src *model.Source) error
	DeleteSource(ctx context.Context, id int64) error
	DeleteAllSources(ctx context.Context) (int64, error)

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

	ReplaceRules(ctx context.Context, rules []model.Rule) error
	ListRules(ctx context.Context) ([]model.Rule, error)

	Close() error
}
