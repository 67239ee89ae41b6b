// Package query serves read-only, paged views of sources and entries.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rss_reader/internal/model"
	"rss_reader/internal/storage"
)

// Paging limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Backend is the read side of the store.
type Backend interface {
	GetEntry(ctx context.Context, id int64) (*model.Entry, error)
	ListEntries(ctx context.Context, q model.EntryQuery) ([]model.Entry, error)
	CountEntries(ctx context.Context, q model.EntryQuery) (int, error)
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	ListSources(ctx context.Context, q model.SourceQuery) ([]model.Source, error)
	CountSources(ctx context.Context, q model.SourceQuery) (int, error)
}

// Page is one slice of a larger result set.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// SourceView is the public projection of a source.
type SourceView struct {
	ID              int64     `json:"id"`
	URL             string    `json:"link"`
	Title           string    `json:"title"`
	Language        string    `json:"language"`
	Favicon         string    `json:"favicon"`
	Enabled         bool      `json:"enabled"`
	XPath           string    `json:"xpath"`
	FetchPeriod     int       `json:"fetch_period"`
	RemoveAfterDays int       `json:"remove_after_days"`
	AutoTag         string    `json:"auto_tag"`
	CreatedAt       time.Time `json:"created_at"`
}

// EntryView is the public projection of an entry.
type EntryView struct {
	ID                 int64       `json:"id"`
	Link               string      `json:"link"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Author             string      `json:"author"`
	Album              string      `json:"album"`
	Language           string      `json:"language"`
	Thumbnail          string      `json:"thumbnail"`
	DatePublished      *time.Time  `json:"date_published"`
	DateCreated        time.Time   `json:"date_created"`
	DateLastModified   *time.Time  `json:"date_last_modified"`
	Bookmarked         bool        `json:"bookmarked"`
	Permanent          bool        `json:"permanent"`
	StatusCode         int         `json:"status_code"`
	PageRating         int         `json:"page_rating"`
	PageRatingVotes    int         `json:"page_rating_votes"`
	PageRatingContents int         `json:"page_rating_contents"`
	PageRatingVisits   int         `json:"page_rating_visits"`
	Age                int         `json:"age"`
	SourceID           int64       `json:"source_id"`
	SourceTitle        string      `json:"source__title"`
	SourceURL          string      `json:"source__url"`
	Source             *SourceView `json:"source,omitempty"`
}

// Stats are store-wide counts.
type Stats struct {
	Sources int `json:"sources"`
	Entries int `json:"entries"`
}

// Service answers read queries. It never writes.
type Service struct {
	backend Backend
}

// New creates a Service.
func New(backend Backend) *Service {
	return &Service{backend: backend}
}

// Entries returns a page of entries, newest first. withSource embeds the
// full source view in each entry.
func (s *Service) Entries(ctx context.Context, q model.EntryQuery, withSource bool) (Page[EntryView], error) {
	q.Search = strings.TrimSpace(q.Search)
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)

	list, err := s.backend.ListEntries(ctx, q)
	if err != nil {
		return Page[EntryView]{}, fmt.Errorf("list entries: %w", err)
	}
	total, err := s.backend.CountEntries(ctx, q)
	if err != nil {
		return Page[EntryView]{}, fmt.Errorf("count entries: %w", err)
	}

	cache := make(map[int64]*SourceView)
	items := make([]EntryView, 0, len(list))
	for i := range list {
		src, err := s.sourceView(ctx, list[i].SourceID, cache)
		if err != nil {
			return Page[EntryView]{}, err
		}
		items = append(items, entryView(&list[i], src, withSource))
	}
	return Page[EntryView]{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Entry returns a single entry.
func (s *Service) Entry(ctx context.Context, id int64, withSource bool) (*EntryView, error) {
	e, err := s.backend.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	src, err := s.sourceView(ctx, e.SourceID, map[int64]*SourceView{})
	if err != nil {
		return nil, err
	}
	v := entryView(e, src, withSource)
	return &v, nil
}

// Sources returns a page of sources ordered by title.
func (s *Service) Sources(ctx context.Context, q model.SourceQuery) (Page[SourceView], error) {
	q.Search = strings.TrimSpace(q.Search)
	q.Limit, q.Offset = clampPage(q.Limit, q.Offset)

	list, err := s.backend.ListSources(ctx, q)
	if err != nil {
		return Page[SourceView]{}, fmt.Errorf("list sources: %w", err)
	}
	total, err := s.backend.CountSources(ctx, q)
	if err != nil {
		return Page[SourceView]{}, fmt.Errorf("count sources: %w", err)
	}

	items := make([]SourceView, 0, len(list))
	for i := range list {
		items = append(items, sourceView(&list[i]))
	}
	return Page[SourceView]{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Source returns a single source.
func (s *Service) Source(ctx context.Context, id int64) (*SourceView, error) {
	src, err := s.backend.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	v := sourceView(src)
	return &v, nil
}

// Stats returns store-wide counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Sources, err = s.backend.CountSources(ctx, model.SourceQuery{}); err != nil {
		return Stats{}, fmt.Errorf("count sources: %w", err)
	}
	if st.Entries, err = s.backend.CountEntries(ctx, model.EntryQuery{}); err != nil {
		return Stats{}, fmt.Errorf("count entries: %w", err)
	}
	return st, nil
}

// PageOffset converts a 1-based page number and page size to an offset.
func PageOffset(page, size int) int {
	if page < 1 {
		page = 1
	}
	size, _ = clampPage(size, 0)
	return (page - 1) * size
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// sourceView returns the view of the source with id, nil if it is gone.
func (s *Service) sourceView(ctx context.Context, id int64, cache map[int64]*SourceView) (*SourceView, error) {
	if v, ok := cache[id]; ok {
		return v, nil
	}
	src, err := s.backend.GetSource(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			cache[id] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}
	v := sourceView(src)
	cache[id] = &v
	return &v, nil
}

func sourceView(src *model.Source) SourceView {
	return SourceView{
		ID:              src.ID,
		URL:             src.URL,
		Title:           src.Title,
		Language:        src.Language,
		Favicon:         src.Favicon,
		Enabled:         src.Enabled,
		XPath:           src.XPath,
		FetchPeriod:     src.FetchPeriod,
		RemoveAfterDays: src.RemoveAfterDays,
		AutoTag:         src.AutoTag,
		CreatedAt:       src.CreatedAt,
	}
}

func entryView(e *model.Entry, src *SourceView, withSource bool) EntryView {
	v := EntryView{
		ID:                 e.ID,
		Link:               e.Link,
		Title:              e.Title,
		Description:        e.Description,
		Author:             e.Author,
		Album:              e.Album,
		Language:           e.Language,
		Thumbnail:          e.Thumbnail,
		DatePublished:      e.DatePublished,
		DateCreated:        e.DateCreated,
		DateLastModified:   e.DateLastModified,
		Bookmarked:         e.Bookmarked,
		Permanent:          e.Permanent,
		StatusCode:         e.StatusCode,
		PageRating:         e.PageRating,
		PageRatingVotes:    e.PageRatingVotes,
		PageRatingContents: e.PageRatingContents,
		PageRatingVisits:   e.PageRatingVisits,
		Age:                e.Age,
		SourceID:           e.SourceID,
		SourceURL:          e.SourceURL,
	}
	if src != nil {
		v.SourceTitle = src.Title
		if v.SourceURL == "" {
			v.SourceURL = src.URL
		}
		if withSource {
			v.Source = src
		}
	}
	return v
}
