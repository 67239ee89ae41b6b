package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"rss_reader/internal/model"
)

var ignoreSourceTS = cmpopts.IgnoreFields(model.Source{}, "ID", "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateSource(t *testing.T, s *SQLite, url string) *model.Source {
	t.Helper()
	src := &model.Source{
		URL:             url,
		Enabled:         true,
		FetchPeriod:     model.DefaultFetchPeriod,
		RemoveAfterDays: model.DefaultRemoveAfterDays,
	}
	if err := s.CreateSource(context.Background(), src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	return src
}

func mustCreateEntry(t *testing.T, s *SQLite, src *model.Source, link string, created time.Time) *model.Entry {
	t.Helper()
	e := &model.Entry{Link: link, SourceID: src.ID, SourceURL: src.URL, Title: link, DateCreated: created}
	if err := s.CreateEntry(context.Background(), e); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return e
}

func TestSourceCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name string
		src  model.Source
	}{
		{
			name: "defaults",
			src: model.Source{
				URL:             "https://example.com/rss",
				Enabled:         true,
				FetchPeriod:     3600,
				RemoveAfterDays: 5,
			},
		},
		{
			name: "disabled with xpath",
			src: model.Source{
				URL:             "https://www.youtube.com/feeds/videos.xml?channel_id=abc",
				Title:           "Channel",
				XPath:           ".*youtube.*",
				FetchPeriod:     600,
				RemoveAfterDays: 0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			if err := s.CreateSource(ctx, &src); err != nil {
				t.Fatalf("CreateSource: %v", err)
			}
			if src.ID == 0 {
				t.Fatal("expected non-zero ID")
			}

			got, err := s.GetSource(ctx, src.ID)
			if err != nil {
				t.Fatalf("GetSource: %v", err)
			}
			if diff := cmp.Diff(tt.src, *got, ignoreSourceTS); diff != "" {
				t.Errorf("GetSource mismatch (-want +got):\n%s", diff)
			}

			byURL, err := s.GetSourceByURL(ctx, src.URL)
			if err != nil {
				t.Fatalf("GetSourceByURL: %v", err)
			}
			if byURL.ID != src.ID {
				t.Errorf("GetSourceByURL id = %d, want %d", byURL.ID, src.ID)
			}
		})
	}
}

func TestCreateSourceDuplicate(t *testing.T) {
	s := newTestDB(t)
	mustCreateSource(t, s, "https://example.com/rss")

	err := s.CreateSource(context.Background(), &model.Source{URL: "https://example.com/rss"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("CreateSource duplicate error = %v, want ErrDuplicate", err)
	}
}

func TestGetSourceNotFound(t *testing.T) {
	s := newTestDB(t)
	if _, err := s.GetSource(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSource error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteSource(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteSource error = %v, want ErrNotFound", err)
	}
}

func TestListSourcesOrderAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for _, v := range []struct{ url, title string }{
		{"https://c.example/rss", "charlie"},
		{"https://a.example/rss", "Alpha"},
		{"https://untitled.example/rss", ""},
		{"https://b.example/rss", "bravo"},
	} {
		src := mustCreateSource(t, s, v.url)
		src.Title = v.title
		if err := s.UpdateSource(ctx, src); err != nil {
			t.Fatalf("UpdateSource: %v", err)
		}
	}

	tests := []struct {
		name  string
		query model.SourceQuery
		want  []string
	}{
		{
			name: "all by title",
			want: []string{"Alpha", "bravo", "charlie", ""},
		},
		{
			name:  "paged",
			query: model.SourceQuery{Limit: 2, Offset: 1},
			want:  []string{"bravo", "charlie"},
		},
		{
			name:  "search title case insensitive",
			query: model.SourceQuery{Search: "ALP"},
			want:  []string{"Alpha"},
		},
		{
			name:  "search url",
			query: model.SourceQuery{Search: "untitled"},
			want:  []string{""},
		},
		{
			name:  "like wildcards are literal",
			query: model.SourceQuery{Search: "%"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sources, err := s.ListSources(ctx, tt.query)
			if err != nil {
				t.Fatalf("ListSources: %v", err)
			}
			var got []string
			for _, src := range sources {
				got = append(got, src.Title)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("titles mismatch (-want +got):\n%s", diff)
			}
		})
	}

	n, err := s.CountSources(ctx, model.SourceQuery{Search: "example", Limit: 1})
	if err != nil {
		t.Fatalf("CountSources: %v", err)
	}
	if n != 4 {
		t.Errorf("CountSources = %d, want 4", n)
	}
}

func TestDeleteSourceCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	keep := mustCreateSource(t, s, "https://keep.example/rss")
	drop := mustCreateSource(t, s, "https://drop.example/rss")
	now := time.Now()
	mustCreateEntry(t, s, keep, "https://keep.example/1", now)
	mustCreateEntry(t, s, drop, "https://drop.example/1", now)
	mustCreateEntry(t, s, drop, "https://drop.example/2", now)

	if err := s.DeleteSource(ctx, drop.ID); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}

	n, err := s.CountEntries(ctx, model.EntryQuery{})
	if err != nil {
		t.Fatalf("CountEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("entries after delete = %d, want 1", n)
	}
	ids, err := s.ListSourceIDs(ctx)
	if err != nil {
		t.Fatalf("ListSourceIDs: %v", err)
	}
	if diff := cmp.Diff([]int64{keep.ID}, ids); diff != "" {
		t.Errorf("source ids mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateEntryDuplicateLink(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	a := mustCreateSource(t, s, "https://a.example/rss")
	b := mustCreateSource(t, s, "https://b.example/rss")

	mustCreateEntry(t, s, a, "https://example.com/post", time.Now())
	err := s.CreateEntry(ctx, &model.Entry{Link: "https://example.com/post", SourceID: b.ID})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("CreateEntry duplicate error = %v, want ErrDuplicate", err)
	}

	exists, err := s.EntryExists(ctx, "https://example.com/post")
	if err != nil {
		t.Fatalf("EntryExists: %v", err)
	}
	if !exists {
		t.Error("EntryExists = false, want true")
	}
}

func TestEntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	src := mustCreateSource(t, s, "https://a.example/rss")

	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := model.Entry{
		Link:          "https://a.example/post",
		SourceID:      src.ID,
		SourceURL:     src.URL,
		Title:         "Post",
		Description:   "<p>body</p>",
		Author:        "Jo",
		Thumbnail:     "https://a.example/t.png",
		Language:      "en",
		DatePublished: &published,
		DateCreated:   time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC),
		StatusCode:    200,
		PageRating:    7,
		Age:           18,
	}
	e := want
	if err := s.CreateEntry(ctx, &e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	got, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if diff := cmp.Diff(want, *got, cmpopts.IgnoreFields(model.Entry{}, "ID")); diff != "" {
		t.Errorf("GetEntry mismatch (-want +got):\n%s", diff)
	}
}

func TestListEntriesOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	src := mustCreateSource(t, s, "https://a.example/rss")
	other := mustCreateSource(t, s, "https://b.example/rss")

	day := func(d int) *time.Time {
		v := time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	for _, e := range []model.Entry{
		{Link: "https://a.example/old", SourceID: src.ID, DatePublished: day(1)},
		{Link: "https://a.example/new", SourceID: src.ID, DatePublished: day(9)},
		{Link: "https://a.example/undated", SourceID: src.ID, DateCreated: *day(5)},
		{Link: "https://b.example/x", SourceID: other.ID, DatePublished: day(3)},
	} {
		e := e
		if err := s.CreateEntry(ctx, &e); err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
	}

	entries, err := s.ListEntries(ctx, model.EntryQuery{SourceID: src.ID})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Link)
	}
	want := []string{"https://a.example/new", "https://a.example/undated", "https://a.example/old"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	src := mustCreateSource(t, s, "https://a.example/rss")
	forever := mustCreateSource(t, s, "https://forever.example/rss")
	forever.RemoveAfterDays = 0
	if err := s.UpdateSource(ctx, forever); err != nil {
		t.Fatalf("UpdateSource: %v", err)
	}

	old := now.AddDate(0, 0, -6)
	mustCreateEntry(t, s, src, "https://a.example/old", old)
	mustCreateEntry(t, s, src, "https://a.example/fresh", now.AddDate(0, 0, -1))
	marked := mustCreateEntry(t, s, src, "https://a.example/bookmarked", old)
	if err := s.SetEntryBookmarked(ctx, marked.ID, true); err != nil {
		t.Fatalf("SetEntryBookmarked: %v", err)
	}
	mustCreateEntry(t, s, forever, "https://forever.example/old", old)

	n, err := s.DeleteExpiredEntries(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if ok, _ := s.EntryExists(ctx, "https://a.example/old"); ok {
		t.Error("expired entry still present")
	}
	for _, link := range []string{"https://a.example/fresh", "https://a.example/bookmarked", "https://forever.example/old"} {
		if ok, _ := s.EntryExists(ctx, link); !ok {
			t.Errorf("entry %s was removed", link)
		}
	}
}

func TestTrimEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	src := mustCreateSource(t, s, "https://a.example/rss")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, link := range []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"} {
		mustCreateEntry(t, s, src, link, base.Add(time.Duration(i)*time.Hour))
	}

	n, err := s.TrimEntries(ctx, 2)
	if err != nil {
		t.Fatalf("TrimEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("trimmed = %d, want 1", n)
	}
	if ok, _ := s.EntryExists(ctx, "https://a.example/1"); ok {
		t.Error("oldest entry should be trimmed")
	}
}

func TestReplaceRules(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	first := []model.Rule{
		{TriggerURL: "https://spam.example/rss", Enabled: true, Block: true},
		{TriggerURL: "https://ads.example/rss", Enabled: true, Block: true},
	}
	if err := s.ReplaceRules(ctx, first); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}
	second := []model.Rule{{TriggerURL: "https://other.example/rss", Enabled: true, Block: true}}
	if err := s.ReplaceRules(ctx, second); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}

	got, err := s.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if diff := cmp.Diff(second, got, cmpopts.IgnoreFields(model.Rule{}, "ID", "CreatedAt")); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}

	dup := []model.Rule{{TriggerURL: "x"}, {TriggerURL: "x"}}
	if err := s.ReplaceRules(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("ReplaceRules duplicate error = %v, want ErrDuplicate", err)
	}
	got, _ = s.ListRules(ctx)
	if len(got) != 1 {
		t.Errorf("failed replace must roll back, got %d rules", len(got))
	}
}
