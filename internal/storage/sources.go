package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rss_reader/internal/model"
)

const sourceColumns = `id, url, enabled, title, language, favicon, xpath, fetch_period, remove_after_days, auto_tag, created_at`

// CreateSource inserts a new source and populates its ID and CreatedAt.
// A source with the same URL yields ErrDuplicate.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (url, enabled, title, language, favicon, xpath, fetch_period, remove_after_days, auto_tag, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.URL, boolToInt(src.Enabled), src.Title, src.Language, src.Favicon, src.XPath,
		src.FetchPeriod, src.RemoveAfterDays, src.AutoTag, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert source %q: %w", src.URL, ErrDuplicate)
		}
		return fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	src.ID = id
	src.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// GetSourceByURL returns a single source by its URL.
func (s *SQLite) GetSourceByURL(ctx context.Context, url string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE url = ?`, url)
	return scanSource(row)
}

// ListSources returns a page of sources ordered by title, then URL.
func (s *SQLite) ListSources(ctx context.Context, q model.SourceQuery) ([]model.Source, error) {
	where, args := sourceFilter(q)
	args = append(args, limitOrAll(q.Limit), q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources`+where+`
		 ORDER BY CASE WHEN title = '' THEN 1 ELSE 0 END, title COLLATE NOCASE, url
		 LIMIT ? OFFSET ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// CountSources returns the number of sources matching q, ignoring paging.
func (s *SQLite) CountSources(ctx context.Context, q model.SourceQuery) (int, error) {
	where, args := sourceFilter(q)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sources: %w", err)
	}
	return n, nil
}

// ListSourceIDs returns the IDs of all sources in insertion order.
func (s *SQLite) ListSourceIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query source ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateSource persists changes to an existing source.
func (s *SQLite) UpdateSource(ctx context.Context, src *model.Source) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET enabled = ?, title = ?, language = ?, favicon = ?, xpath = ?,
		        fetch_period = ?, remove_after_days = ?, auto_tag = ?
		 WHERE id = ?`,
		boolToInt(src.Enabled), src.Title, src.Language, src.Favicon, src.XPath,
		src.FetchPeriod, src.RemoveAfterDays, src.AutoTag, src.ID,
	)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return expectAffected(res, "source")
}

// DeleteSource removes a source and all of its entries.
func (s *SQLite) DeleteSource(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if err := expectAffected(res, "source"); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteAllSources removes every source and entry and returns the number of sources removed.
func (s *SQLite) DeleteAllSources(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sources`)
	if err != nil {
		return 0, fmt.Errorf("delete sources: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func sourceFilter(q model.SourceQuery) (string, []any) {
	if q.Search == "" {
		return "", nil
	}
	p := likePattern(q.Search)
	return ` WHERE (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(url) LIKE ? ESCAPE '\')`, []any{p, p}
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var enabled int
	var created string
	err := row.Scan(&src.ID, &src.URL, &enabled, &src.Title, &src.Language, &src.Favicon, &src.XPath,
		&src.FetchPeriod, &src.RemoveAfterDays, &src.AutoTag, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Enabled = enabled == 1
	src.CreatedAt, _ = time.Parse(timeLayout, created)
	return &src, nil
}

func scanSources(rows *sql.Rows) ([]model.Source, error) {
	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}
