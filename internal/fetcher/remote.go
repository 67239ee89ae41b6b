package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"

	"rss_reader/internal/model"
)

// ErrRemoteUnavailable marks a failure to reach the remote fetch service.
var ErrRemoteUnavailable = errors.New("remote fetch service unavailable")

// remotePayload is the JSON document returned by the remote fetch service.
type remotePayload struct {
	StatusCode int                    `json:"status_code"`
	Properties model.SourceProperties `json:"properties"`
	Entries    []remoteEntry          `json:"entries"`
	Error      string                 `json:"error"`
}

type remoteEntry struct {
	model.RawEntry
	DatePublished    remoteTime `json:"date_published"`
	DateLastModified remoteTime `json:"date_last_modified"`
}

// remoteTime accepts RFC 3339 as well as timestamps without a zone, which
// are read as UTC. A value that cannot be parsed leaves the date unset
// instead of failing the whole payload.
type remoteTime struct {
	t *time.Time
}

func (r *remoteTime) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil || v == nil || v == "" {
		return nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil || t.IsZero() {
		return nil
	}
	r.t = &t
	return nil
}

// Remote delegates fetching to a separate service that answers
// GET <location>?url=<feed url> with a JSON document.
type Remote struct {
	client   HTTPClient
	location string
	timeout  time.Duration
}

// NewRemote creates a Remote for the service at location.
func NewRemote(client HTTPClient, location string) *Remote {
	return &Remote{
		client:   client,
		location: strings.TrimSpace(location),
		timeout:  defaultTimeout,
	}
}

// SetTimeout bounds a single remote fetch.
func (r *Remote) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Fetch asks the remote service for the feed at rawURL.
func (r *Remote) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(r.location)
	if err != nil {
		return nil, fmt.Errorf("parse remote location: %w", err)
	}
	q := endpoint.Query()
	q.Set("url", rawURL)
	endpoint.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create remote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp := &Response{URL: rawURL}

	httpResp, err := r.client.Do(req)
	if err != nil {
		resp.Err = fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		return resp, nil
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode >= http.StatusInternalServerError {
		resp.Err = fmt.Errorf("%w: status %d", ErrRemoteUnavailable, httpResp.StatusCode)
		return resp, nil
	}
	if httpResp.StatusCode != http.StatusOK {
		resp.StatusCode = httpResp.StatusCode
		resp.Err = fmt.Errorf("remote status %d", httpResp.StatusCode)
		return resp, nil
	}

	var payload remotePayload
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxBodySize)).Decode(&payload); err != nil {
		resp.Err = fmt.Errorf("decode remote response: %w", err)
		return resp, nil
	}

	resp.StatusCode = payload.StatusCode
	if payload.Error != "" {
		resp.Err = errors.New(payload.Error)
		return resp, nil
	}
	if payload.StatusCode != 0 && payload.StatusCode != http.StatusOK {
		resp.Err = fmt.Errorf("unexpected status %d", payload.StatusCode)
		return resp, nil
	}
	resp.Properties = payload.Properties
	resp.Entries = make([]model.RawEntry, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		raw := e.RawEntry
		raw.DatePublished = e.DatePublished.t
		raw.DateLastModified = e.DateLastModified.t
		resp.Entries = append(resp.Entries, raw)
	}
	return resp, nil
}

// Router picks the remote service when one is configured and falls back to
// the local fetcher while the remote service is unreachable.
type Router struct {
	local  Adapter
	remote Adapter
}

// NewRouter creates a Router. remote may be nil.
func NewRouter(local, remote Adapter) *Router {
	return &Router{local: local, remote: remote}
}

// Fetch implements Adapter.
func (r *Router) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if r.remote == nil {
		return r.local.Fetch(ctx, rawURL)
	}
	resp, err := r.remote.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil && errors.Is(resp.Err, ErrRemoteUnavailable) && r.local != nil {
		return r.local.Fetch(ctx, rawURL)
	}
	return resp, nil
}
