// Package fetcher retrieves and parses feeds for the scheduler.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"rss_reader/internal/model"
)

// ErrInvalidURL marks a source URL that can never be fetched. Sources that
// fail with it are removed.
var ErrInvalidURL = errors.New("invalid source url")

const (
	defaultTimeout   = 300 * time.Second
	defaultUserAgent = "rss_reader/1.0"
	maxBodySize      = 5 * 1024 * 1024
)

// Adapter fetches a feed. A non-nil error means the request could not be
// built at all; fetch and parse failures are reported through Response.Err.
type Adapter interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Response is the outcome of one fetch.
type Response struct {
	URL        string
	StatusCode int
	Properties model.SourceProperties
	Entries    []model.RawEntry
	Err        error
}

// IsValid reports whether the fetch produced a usable feed.
func (r *Response) IsValid() bool {
	return r != nil && r.Err == nil
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads feeds over HTTP and parses them with gofeed.
type Fetcher struct {
	client    HTTPClient
	timeout   time.Duration
	userAgent string
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:    client,
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
	}
}

// SetTimeout bounds a single fetch.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// SetUserAgent overrides the User-Agent header.
func (f *Fetcher) SetUserAgent(ua string) {
	if ua != "" {
		f.userAgent = ua
	}
}

// Fetch downloads and parses the feed at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp := &Response{URL: rawURL}

	httpResp, err := f.client.Do(req)
	if err != nil {
		resp.Err = fmt.Errorf("http get: %w", err)
		return resp, nil
	}
	defer func() { _ = httpResp.Body.Close() }()
	resp.StatusCode = httpResp.StatusCode

	if httpResp.StatusCode != http.StatusOK {
		resp.Err = fmt.Errorf("unexpected status %d", httpResp.StatusCode)
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		resp.Err = fmt.Errorf("read body: %w", err)
		return resp, nil
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		resp.Err = fmt.Errorf("parse feed: %w", err)
		return resp, nil
	}

	resp.Properties, resp.Entries = convertFeed(feed)
	return resp, nil
}

// ValidateURL rejects URLs that are not absolute http(s) URLs.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}
	return nil
}

func convertFeed(feed *gofeed.Feed) (model.SourceProperties, []model.RawEntry) {
	props := model.SourceProperties{
		Title:    strings.TrimSpace(feed.Title),
		Language: feed.Language,
		Link:     feed.Link,
	}
	if feed.Image != nil {
		props.Thumbnail = feed.Image.URL
	}

	entries := make([]model.RawEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, convertItem(item, feed.Language))
	}
	return props, entries
}

func convertItem(item *gofeed.Item, feedLanguage string) model.RawEntry {
	e := model.RawEntry{
		Link:             item.Link,
		Title:            item.Title,
		Description:      item.Description,
		Language:         feedLanguage,
		DatePublished:    item.PublishedParsed,
		DateLastModified: item.UpdatedParsed,
		Tags:             item.Categories,
	}
	if e.Description == "" {
		e.Description = item.Content
	}
	if e.DatePublished == nil {
		e.DatePublished = item.UpdatedParsed
	}
	if item.Author != nil {
		e.Author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = item.Authors[0].Name
	}
	if dc := item.DublinCoreExt; dc != nil && len(dc.Language) > 0 {
		e.Language = dc.Language[0]
	}

	e.Thumbnail = mediaThumbnail(item.Extensions)
	if e.Thumbnail == "" && item.Image != nil {
		e.Thumbnail = item.Image.URL
	}
	return e
}

// mediaThumbnail finds a Media RSS thumbnail, either directly on the item or
// nested in media:group / media:content.
func mediaThumbnail(exts ext.Extensions) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	if u := thumbnailIn(media["thumbnail"]); u != "" {
		return u
	}
	for _, c := range media["content"] {
		if u := thumbnailIn(c.Children["thumbnail"]); u != "" {
			return u
		}
	}
	for _, g := range media["group"] {
		if u := thumbnailIn(g.Children["thumbnail"]); u != "" {
			return u
		}
		for _, c := range g.Children["content"] {
			if u := thumbnailIn(c.Children["thumbnail"]); u != "" {
				return u
			}
		}
	}
	return ""
}

func thumbnailIn(list []ext.Extension) string {
	for _, t := range list {
		if u := t.Attrs["url"]; u != "" {
			return u
		}
	}
	return ""
}
