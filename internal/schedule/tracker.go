// Package schedule records when each source was last fetched and decides
// which sources are due.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"rss_reader/internal/model"
)

// DefaultWindow is the minimum time between two fetches of a source.
const DefaultWindow = time.Hour

var fetchedBucket = []byte("fetched")

// Tracker persists last-fetch times keyed by source URL.
type Tracker struct {
	db  *bolt.DB
	log *slog.Logger

	window           time.Duration
	honorFetchPeriod bool
}

// Open opens or creates the tracker file at path. A file that cannot be
// opened is moved aside and replaced by an empty one.
func Open(path string, log *slog.Logger) (*Tracker, error) {
	db, err := openDB(path)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		log.Warn("schedule state unreadable, starting fresh", "path", path, "moved_to", aside, "error", err)
		if rerr := os.Rename(path, aside); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			return nil, fmt.Errorf("move schedule state aside: %w", rerr)
		}
		db, err = openDB(path)
		if err != nil {
			return nil, fmt.Errorf("open schedule state: %w", err)
		}
	}
	return &Tracker{db: db, log: log, window: DefaultWindow}, nil
}

func openDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(fetchedBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the tracker file.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// SetWindow overrides the freshness window.
func (t *Tracker) SetWindow(d time.Duration) {
	if d > 0 {
		t.window = d
	}
}

// HonorFetchPeriod makes a source's own fetch_period replace the window.
func (t *Tracker) HonorFetchPeriod(v bool) {
	t.honorFetchPeriod = v
}

// MarkFetched records that url was fetched at at. Write failures are logged.
func (t *Tracker) MarkFetched(url string, at time.Time) {
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fetchedBucket).Put([]byte(url), []byte(at.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		t.log.Error("persist schedule state", "url", url, "error", err)
	}
}

// LastFetched returns the recorded fetch time for url. A missing or
// unparseable record reports false.
func (t *Tracker) LastFetched(url string) (time.Time, bool) {
	var raw []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(fetchedBucket).Get([]byte(url)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		t.log.Warn("ignore unparseable schedule record", "url", url, "value", string(raw))
		return time.Time{}, false
	}
	return at, true
}

// Forget drops the record for url.
func (t *Tracker) Forget(url string) {
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fetchedBucket).Delete([]byte(url))
	})
	if err != nil {
		t.log.Error("persist schedule state", "url", url, "error", err)
	}
}

// Window returns the freshness window that applies to src.
func (t *Tracker) Window(src *model.Source) time.Duration {
	if t.honorFetchPeriod && src.FetchPeriod > 0 {
		return time.Duration(src.FetchPeriod) * time.Second
	}
	return t.window
}

// IsUpdateNeeded reports whether src is due at now.
func (t *Tracker) IsUpdateNeeded(src *model.Source, now time.Time) bool {
	last, ok := t.LastFetched(src.URL)
	if !ok {
		return true
	}
	return now.Sub(last) >= t.Window(src)
}

// NextDue returns the earliest time src becomes due. A source without a
// record is due immediately, reported as the zero time.
func (t *Tracker) NextDue(src *model.Source) time.Time {
	last, ok := t.LastFetched(src.URL)
	if !ok {
		return time.Time{}
	}
	return last.Add(t.Window(src))
}
