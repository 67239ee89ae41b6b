// Package sources manages the registry of tracked feed sources.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rss_reader/internal/filter"
	"rss_reader/internal/model"
	"rss_reader/internal/storage"
)

var (
	// ErrEmptyURL is returned when registering a blank source URL.
	ErrEmptyURL = errors.New("source url is empty")
	// ErrInvalidSettings is returned by Configure for out-of-range values.
	ErrInvalidSettings = errors.New("invalid source settings")
)

// Settings are the operator-editable fields of a source. Nil fields are
// left unchanged.
type Settings struct {
	Enabled         *bool
	XPath           *string
	FetchPeriod     *int // seconds, 0 falls back to the global window
	RemoveAfterDays *int // 0 keeps entries forever
	AutoTag         *string
}

// Empty reports whether s changes nothing.
func (s Settings) Empty() bool {
	return s.Enabled == nil && s.XPath == nil && s.FetchPeriod == nil &&
		s.RemoveAfterDays == nil && s.AutoTag == nil
}

func (s Settings) validate() error {
	if s.XPath != nil {
		if err := filter.ValidatePattern(strings.TrimSpace(*s.XPath)); err != nil {
			return fmt.Errorf("%w: xpath: %v", ErrInvalidSettings, err)
		}
	}
	if s.FetchPeriod != nil && *s.FetchPeriod < 0 {
		return fmt.Errorf("%w: fetch_period must not be negative", ErrInvalidSettings)
	}
	if s.RemoveAfterDays != nil && *s.RemoveAfterDays < 0 {
		return fmt.Errorf("%w: remove_after_days must not be negative", ErrInvalidSettings)
	}
	return nil
}

// Store is the persistence needed by the registry.
type Store interface {
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	GetSourceByURL(ctx context.Context, url string) (*model.Source, error)
	ListSources(ctx context.Context, q model.SourceQuery) ([]model.Source, error)
	CountSources(ctx context.Context, q model.SourceQuery) (int, error)
	ListSourceIDs(ctx context.Context) ([]int64, error)
	UpdateSource(ctx context.Context, src *model.Source) error
	DeleteSource(ctx context.Context, id int64) error
	DeleteAllSources(ctx context.Context) (int64, error)
}

// Registry creates, refreshes and removes sources.
type Registry struct {
	store Store
	log   *slog.Logger
}

// New creates a Registry.
func New(store Store, log *slog.Logger) *Registry {
	return &Registry{store: store, log: log}
}

// Register creates the source at url or, if it exists, refreshes its
// metadata from props. props may be nil.
func (r *Registry) Register(ctx context.Context, url string, props *model.SourceProperties) (*model.Source, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrEmptyURL
	}

	src, err := r.store.GetSourceByURL(ctx, url)
	switch {
	case err == nil:
		if err := r.UpdateProperties(ctx, src, props); err != nil {
			return nil, err
		}
		return src, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("get source: %w", err)
	}

	src = &model.Source{
		URL:             url,
		Enabled:         true,
		FetchPeriod:     model.DefaultFetchPeriod,
		RemoveAfterDays: model.DefaultRemoveAfterDays,
	}
	applyProperties(src, props)

	if err := r.store.CreateSource(ctx, src); err != nil {
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("create source: %w", err)
		}
		// registered concurrently; fall back to refreshing it
		existing, err := r.store.GetSourceByURL(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("get source: %w", err)
		}
		if err := r.UpdateProperties(ctx, existing, props); err != nil {
			return nil, err
		}
		return existing, nil
	}

	r.log.Info("source registered", "source_id", src.ID, "url", src.URL)
	return src, nil
}

// UpdateProperties overwrites title, favicon and language of src with the
// non-empty values in props and persists the result if anything changed.
func (r *Registry) UpdateProperties(ctx context.Context, src *model.Source, props *model.SourceProperties) error {
	if !applyProperties(src, props) {
		return nil
	}
	if err := r.store.UpdateSource(ctx, src); err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return nil
}

func applyProperties(src *model.Source, props *model.SourceProperties) bool {
	if props == nil {
		return false
	}
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&src.Title, props.Title)
	set(&src.Favicon, props.Thumbnail)
	set(&src.Language, props.Language)
	return changed
}

// Get returns the source with the given ID.
func (r *Registry) Get(ctx context.Context, id int64) (*model.Source, error) {
	return r.store.GetSource(ctx, id)
}

// List returns a page of sources.
func (r *Registry) List(ctx context.Context, q model.SourceQuery) ([]model.Source, error) {
	return r.store.ListSources(ctx, q)
}

// Count returns the number of sources matching q.
func (r *Registry) Count(ctx context.Context, q model.SourceQuery) (int, error) {
	return r.store.CountSources(ctx, q)
}

// IDs returns a snapshot of all source IDs.
func (r *Registry) IDs(ctx context.Context) ([]int64, error) {
	return r.store.ListSourceIDs(ctx)
}

// Configure applies settings to the source with the given ID and returns
// the updated source. Invalid settings leave the source untouched.
func (r *Registry) Configure(ctx context.Context, id int64, set Settings) (*model.Source, error) {
	if err := set.validate(); err != nil {
		return nil, err
	}
	src, err := r.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if set.Empty() {
		return src, nil
	}
	if set.Enabled != nil {
		src.Enabled = *set.Enabled
	}
	if set.XPath != nil {
		src.XPath = strings.TrimSpace(*set.XPath)
	}
	if set.FetchPeriod != nil {
		src.FetchPeriod = *set.FetchPeriod
	}
	if set.RemoveAfterDays != nil {
		src.RemoveAfterDays = *set.RemoveAfterDays
	}
	if set.AutoTag != nil {
		src.AutoTag = strings.TrimSpace(*set.AutoTag)
	}
	if err := r.store.UpdateSource(ctx, src); err != nil {
		return nil, fmt.Errorf("update source %d: %w", id, err)
	}
	r.log.Info("source configured", "source_id", id,
		"enabled", src.Enabled, "xpath", src.XPath,
		"fetch_period", src.FetchPeriod, "remove_after_days", src.RemoveAfterDays)
	return src, nil
}

// SetEnabled toggles whether a source takes part in fetch rounds.
func (r *Registry) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := r.Configure(ctx, id, Settings{Enabled: &enabled})
	return err
}

// Remove deletes a source together with its entries.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	if err := r.store.DeleteSource(ctx, id); err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	r.log.Info("source removed", "source_id", id)
	return nil
}

// RemoveAll deletes every source and entry.
func (r *Registry) RemoveAll(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteAllSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all sources: %w", err)
	}
	r.log.Info("all sources removed", "count", n)
	return n, nil
}
