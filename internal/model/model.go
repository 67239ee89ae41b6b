// Package model defines the domain types used across the application.
package model

import "time"

// Default values applied to newly registered sources.
const (
	DefaultFetchPeriod     = 3600
	DefaultRemoveAfterDays = 5
)

// Source is a tracked feed endpoint.
type Source struct {
	ID              int64
	URL             string
	Enabled         bool
	Title           string
	Language        string
	Favicon         string
	XPath           string
	FetchPeriod     int // seconds
	RemoveAfterDays int
	AutoTag         string
	CreatedAt       time.Time
}

// SourceProperties is the feed-level metadata reported by a fetch.
type SourceProperties struct {
	Title     string `json:"title"`
	Language  string `json:"language"`
	Thumbnail string `json:"thumbnail"`
	Link      string `json:"link"`
}

// Entry is a stored feed item. Link is unique across the store.
type Entry struct {
	ID                 int64
	Link               string
	SourceID           int64
	SourceURL          string
	Title              string
	Description        string
	Author             string
	Thumbnail          string
	Language           string
	Album              string
	DatePublished      *time.Time
	DateCreated        time.Time
	DateLastModified   *time.Time
	Bookmarked         bool
	Permanent          bool
	StatusCode         int
	PageRating         int
	PageRatingVotes    int
	PageRatingContents int
	PageRatingVisits   int
	Age                int
}

// RawEntry is an entry as produced by a fetch adapter, before normalization.
// Source, CanonicalLink and Tags are adapter-side fields and are never stored.
type RawEntry struct {
	Link               string     `json:"link"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Author             string     `json:"author"`
	Thumbnail          string     `json:"thumbnail"`
	Language           string     `json:"language"`
	Album              string     `json:"album"`
	DatePublished      *time.Time `json:"date_published"`
	DateLastModified   *time.Time `json:"date_last_modified"`
	StatusCode         int        `json:"status_code"`
	PageRating         int        `json:"page_rating"`
	PageRatingVotes    int        `json:"page_rating_votes"`
	PageRatingContents int        `json:"page_rating_contents"`
	PageRatingVisits   int        `json:"page_rating_visits"`
	Age                int        `json:"age"`

	Source        string   `json:"source"`
	CanonicalLink string   `json:"link_canonical"`
	Tags          []string `json:"tags"`
}

// Rule is a URL directive evaluated against source URLs.
type Rule struct {
	ID         int64
	TriggerURL string
	Enabled    bool
	Block      bool
	Trust      bool
	AutoTag    string
	Priority   int
	CreatedAt  time.Time
}

// SourceQuery selects a page of sources.
type SourceQuery struct {
	Search string
	Limit  int
	Offset int
}

// EntryQuery selects a page of entries.
type EntryQuery struct {
	Search   string
	SourceID int64
	Limit    int
	Offset   int
}
