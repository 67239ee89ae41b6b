package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rss_reader/internal/model"
)

const entryColumns = `id, link, source_id, source_url, title, description, author, thumbnail, language, album,
	date_published, date_created, date_last_modified, bookmarked, permanent, status_code,
	page_rating, page_rating_votes, page_rating_contents, page_rating_visits, age`

// EntryExists reports whether an entry with the given link is stored.
func (s *SQLite) EntryExists(ctx context.Context, link string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE link = ?`, link).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check entry: %w", err)
	}
	return count > 0, nil
}

// CreateEntry inserts a new entry and populates its ID.
// An entry with an already stored link yields ErrDuplicate.
func (s *SQLite) CreateEntry(ctx context.Context, e *model.Entry) error {
	if e.DateCreated.IsZero() {
		e.DateCreated = s.now().UTC()
	}
	created := e.DateCreated.UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (link, source_id, source_url, title, description, author, thumbnail, language, album,
		                      date_published, date_created, date_last_modified, bookmarked, permanent, status_code,
		                      page_rating, page_rating_votes, page_rating_contents, page_rating_visits, age)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Link, e.SourceID, e.SourceURL, e.Title, e.Description, e.Author, e.Thumbnail, e.Language, e.Album,
		formatTime(e.DatePublished), created, formatTime(e.DateLastModified),
		boolToInt(e.Bookmarked), boolToInt(e.Permanent), e.StatusCode,
		e.PageRating, e.PageRatingVotes, e.PageRatingContents, e.PageRatingVisits, e.Age,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert entry %q: %w", e.Link, ErrDuplicate)
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	e.DateCreated, _ = time.Parse(timeLayout, created)
	return nil
}

// GetEntry returns a single entry by its ID.
func (s *SQLite) GetEntry(ctx context.Context, id int64) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntry(row)
}

// ListEntries returns a page of entries, newest publication first.
// Entries without a publication date sort by their creation date.
func (s *SQLite) ListEntries(ctx context.Context, q model.EntryQuery) ([]model.Entry, error) {
	where, args := entryFilter(q)
	args = append(args, limitOrAll(q.Limit), q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries`+where+`
		 ORDER BY COALESCE(date_published, date_created) DESC, id DESC
		 LIMIT ? OFFSET ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

// CountEntries returns the number of entries matching q, ignoring paging.
func (s *SQLite) CountEntries(ctx context.Context, q model.EntryQuery) (int, error) {
	where, args := entryFilter(q)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// SetEntryBookmarked toggles the bookmark flag of an entry.
func (s *SQLite) SetEntryBookmarked(ctx context.Context, id int64, bookmarked bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entries SET bookmarked = ? WHERE id = ?`, boolToInt(bookmarked), id)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return expectAffected(res, "entry")
}

// DeleteEntry removes an entry by its ID.
func (s *SQLite) DeleteEntry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return expectAffected(res, "entry")
}

// DeleteEntriesBySource removes all entries of a source.
func (s *SQLite) DeleteEntriesBySource(ctx context.Context, sourceID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete source entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteAllEntries removes every entry.
func (s *SQLite) DeleteAllEntries(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteExpiredEntries removes entries older than their source's retention
// period. Bookmarked and permanent entries are kept, as are entries of
// sources with remove_after_days = 0.
func (s *SQLite) DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries
		 WHERE bookmarked = 0 AND permanent = 0
		   AND id IN (
		       SELECT e.id FROM entries e
		       JOIN sources s ON s.id = e.source_id
		       WHERE s.remove_after_days > 0
		         AND datetime(e.date_created) < datetime(?, '-' || s.remove_after_days || ' days'))`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TrimEntries keeps the newest keep unprotected entries and deletes the rest.
func (s *SQLite) TrimEntries(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE id IN (
		     SELECT id FROM entries
		     WHERE bookmarked = 0 AND permanent = 0
		     ORDER BY date_created DESC, id DESC
		     LIMIT -1 OFFSET ?)`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("trim entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func entryFilter(q model.EntryQuery) (string, []any) {
	var conds []string
	var args []any
	if q.SourceID != 0 {
		conds = append(conds, "source_id = ?")
		args = append(args, q.SourceID)
	}
	if q.Search != "" {
		p := likePattern(q.Search)
		conds = append(conds, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'
			OR LOWER(link) LIKE ? ESCAPE '\' OR LOWER(source_url) LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p, p)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(row scannable) (*model.Entry, error) {
	var e model.Entry
	var published, modified sql.NullString
	var created string
	var bookmarked, permanent int
	err := row.Scan(&e.ID, &e.Link, &e.SourceID, &e.SourceURL, &e.Title, &e.Description, &e.Author,
		&e.Thumbnail, &e.Language, &e.Album, &published, &created, &modified, &bookmarked, &permanent,
		&e.StatusCode, &e.PageRating, &e.PageRatingVotes, &e.PageRatingContents, &e.PageRatingVisits, &e.Age)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("entry: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	e.DatePublished = parseTime(published)
	e.DateLastModified = parseTime(modified)
	e.DateCreated, _ = time.Parse(timeLayout, created)
	e.Bookmarked = bookmarked == 1
	e.Permanent = permanent == 1
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]model.Entry, error) {
	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
