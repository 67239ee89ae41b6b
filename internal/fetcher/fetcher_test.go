package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rss_reader/internal/model"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
	lastURL    string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastURL = req.URL.String()
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")

	tests := []struct {
		name        string
		transport   *mockTransport
		wantValid   bool
		wantTitle   string
		wantEntries int
		wantStatus  int
	}{
		{
			name:        "successful fetch",
			transport:   &mockTransport{body: xml, statusCode: 200},
			wantValid:   true,
			wantTitle:   "Example",
			wantEntries: 3,
			wantStatus:  200,
		},
		{
			name:       "http error status",
			transport:  &mockTransport{body: "not found", statusCode: 404},
			wantStatus: 404,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
		},
		{
			name:       "invalid xml",
			transport:  &mockTransport{body: "not xml at all", statusCode: 200},
			wantStatus: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport)
			resp, err := f.Fetch(context.Background(), "https://example.com/rss")
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if resp.IsValid() != tt.wantValid {
				t.Fatalf("IsValid = %v, want %v (err: %v)", resp.IsValid(), tt.wantValid, resp.Err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.Properties.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", resp.Properties.Title, tt.wantTitle)
			}
			if len(resp.Entries) != tt.wantEntries {
				t.Errorf("entries = %d, want %d", len(resp.Entries), tt.wantEntries)
			}
		})
	}
}

func TestFetchConvertsItems(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")
	resp, err := New(&mockTransport{body: xml, statusCode: 200}).Fetch(context.Background(), "https://example.com/rss")
	if err != nil || !resp.IsValid() {
		t.Fatalf("Fetch = %v, %v", resp, err)
	}

	wantProps := model.SourceProperties{
		Title:     "Example",
		Language:  "en",
		Thumbnail: "https://example.com/logo.png",
		Link:      "https://example.com/",
	}
	if diff := cmp.Diff(wantProps, resp.Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}

	type summary struct {
		Link, Title, Author, Thumbnail, Language string
		Published                                time.Time
	}
	var got []summary
	for _, e := range resp.Entries {
		s := summary{Link: e.Link, Title: e.Title, Author: e.Author, Thumbnail: e.Thumbnail, Language: e.Language}
		if e.DatePublished != nil {
			s.Published = e.DatePublished.UTC()
		}
		got = append(got, s)
	}
	want := []summary{
		{
			Link: "https://example.com/posts/1", Title: "First post", Author: "Ann",
			Thumbnail: "https://example.com/thumbs/1.jpg", Language: "en",
			Published: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			Link: "https://example.com/posts/2", Title: "Second post",
			Thumbnail: "https://example.com/thumbs/2.jpg", Language: "pl",
			Published: time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			Link: "https://www.youtube.com/watch?v=abc", Title: "Video", Language: "en",
			Published: time.Date(2024, 4, 3, 10, 0, 0, 0, time.UTC),
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(resp.Entries[0].Description, "<b>world</b>") {
		t.Errorf("description = %q, want raw html", resp.Entries[0].Description)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	tests := []string{"", "not a url", "ftp://example.com/rss", "https://", "http://[::1"}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			_, err := New(&mockTransport{statusCode: 200}).Fetch(context.Background(), u)
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("Fetch(%q) error = %v, want ErrInvalidURL", u, err)
			}
		})
	}
}

func TestRemoteFetch(t *testing.T) {
	tests := []struct {
		name        string
		transport   *mockTransport
		wantValid   bool
		wantEntries int
		wantRemote  bool
	}{
		{
			name: "valid payload",
			transport: &mockTransport{statusCode: 200, body: `{"status_code":200,
				"properties":{"title":"Example","language":"en"},
				"entries":[{"link":"https://example.com/1","title":"One","source":"https://other.example/rss"}]}`},
			wantValid:   true,
			wantEntries: 1,
		},
		{
			name:      "payload error",
			transport: &mockTransport{statusCode: 200, body: `{"error":"crawl failed"}`},
		},
		{
			name:      "origin status",
			transport: &mockTransport{statusCode: 200, body: `{"status_code":404}`},
		},
		{
			name:      "bad json",
			transport: &mockTransport{statusCode: 200, body: `{`},
		},
		{
			name:       "service down",
			transport:  &mockTransport{err: errors.New("connection refused")},
			wantRemote: true,
		},
		{
			name:       "service error",
			transport:  &mockTransport{statusCode: 502},
			wantRemote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRemote(tt.transport, "http://crawler.local:3000/feed")
			resp, err := r.Fetch(context.Background(), "https://example.com/rss")
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if resp.IsValid() != tt.wantValid {
				t.Fatalf("IsValid = %v, want %v (err: %v)", resp.IsValid(), tt.wantValid, resp.Err)
			}
			if len(resp.Entries) != tt.wantEntries {
				t.Errorf("entries = %d, want %d", len(resp.Entries), tt.wantEntries)
			}
			if got := errors.Is(resp.Err, ErrRemoteUnavailable); got != tt.wantRemote {
				t.Errorf("ErrRemoteUnavailable = %v, want %v", got, tt.wantRemote)
			}
			want := "http://crawler.local:3000/feed?url=https%3A%2F%2Fexample.com%2Frss"
			if tt.transport.lastURL != want {
				t.Errorf("request url = %q, want %q", tt.transport.lastURL, want)
			}
		})
	}
}

func TestRemoteFetchDates(t *testing.T) {
	body := `{"status_code":200,"entries":[
		{"link":"https://example.com/1","date_published":"2024-04-10T12:30:00.123456"},
		{"link":"https://example.com/2","date_published":"2024-04-10T12:30:00+02:00","date_last_modified":null},
		{"link":"https://example.com/3","date_published":"yesterday","date_last_modified":""}
	]}`
	r := NewRemote(&mockTransport{statusCode: 200, body: body}, "http://crawler.local:3000/feed")
	resp, err := r.Fetch(context.Background(), "https://example.com/rss")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !resp.IsValid() {
		t.Fatalf("response invalid: %v", resp.Err)
	}

	naive := time.Date(2024, 4, 10, 12, 30, 0, 123456000, time.UTC)
	zoned := time.Date(2024, 4, 10, 10, 30, 0, 0, time.UTC)
	want := []*time.Time{&naive, &zoned, nil}
	if len(resp.Entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(resp.Entries), len(want))
	}
	for i, e := range resp.Entries {
		got := e.DatePublished
		switch {
		case want[i] == nil && got != nil:
			t.Errorf("entry %d date_published = %v, want unset", i, got)
		case want[i] != nil && (got == nil || !got.Equal(*want[i])):
			t.Errorf("entry %d date_published = %v, want %v", i, got, want[i])
		}
		if e.DateLastModified != nil {
			t.Errorf("entry %d date_last_modified = %v, want unset", i, e.DateLastModified)
		}
	}
}

type stubAdapter struct {
	resp  *Response
	calls int
}

func (s *stubAdapter) Fetch(_ context.Context, url string) (*Response, error) {
	s.calls++
	r := *s.resp
	r.URL = url
	return &r, nil
}

func TestRouter(t *testing.T) {
	ok := &Response{Properties: model.SourceProperties{Title: "local"}}
	down := &Response{Err: ErrRemoteUnavailable}
	bad := &Response{Err: errors.New("remote status 404")}

	tests := []struct {
		name       string
		remote     *stubAdapter
		wantLocal  int
		wantValid  bool
		wantRemote int
	}{
		{name: "no remote uses local", wantLocal: 1, wantValid: true},
		{name: "remote answers", remote: &stubAdapter{resp: &Response{}}, wantRemote: 1, wantValid: true},
		{name: "remote down falls back", remote: &stubAdapter{resp: down}, wantRemote: 1, wantLocal: 1, wantValid: true},
		{name: "remote failure is final", remote: &stubAdapter{resp: bad}, wantRemote: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &stubAdapter{resp: ok}
			var r *Router
			if tt.remote != nil {
				r = NewRouter(local, tt.remote)
			} else {
				r = NewRouter(local, nil)
			}
			resp, err := r.Fetch(context.Background(), "https://example.com/rss")
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if resp.IsValid() != tt.wantValid {
				t.Errorf("IsValid = %v, want %v", resp.IsValid(), tt.wantValid)
			}
			if local.calls != tt.wantLocal {
				t.Errorf("local calls = %d, want %d", local.calls, tt.wantLocal)
			}
			if tt.remote != nil && tt.remote.calls != tt.wantRemote {
				t.Errorf("remote calls = %d, want %d", tt.remote.calls, tt.wantRemote)
			}
		})
	}
}
