// Package api exposes the reader over HTTP: paged queries, source and
// entry management, the pending queue, rules, health and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"rss_reader/internal/health"
	"rss_reader/internal/metrics"
	"rss_reader/internal/model"
	"rss_reader/internal/query"
	"rss_reader/internal/sources"
)

// Queries is the read side.
type Queries interface {
	Entries(ctx context.Context, q model.EntryQuery, withSource bool) (query.Page[query.EntryView], error)
	Entry(ctx context.Context, id int64, withSource bool) (*query.EntryView, error)
	Sources(ctx context.Context, q model.SourceQuery) (query.Page[query.SourceView], error)
	Source(ctx context.Context, id int64) (*query.SourceView, error)
	Stats(ctx context.Context) (query.Stats, error)
}

// SourceManager edits and deletes sources.
type SourceManager interface {
	Configure(ctx context.Context, id int64, set sources.Settings) (*model.Source, error)
	Remove(ctx context.Context, id int64) error
}

// EntryEditor changes single entries.
type EntryEditor interface {
	SetBookmarked(ctx context.Context, id int64, bookmarked bool) error
	Delete(ctx context.Context, id int64) error
}

// RuleManager reads and replaces block rules.
type RuleManager interface {
	Rules(ctx context.Context) ([]model.Rule, error)
	ReplaceRules(ctx context.Context, input string) (int, error)
}

// Enqueuer accepts source URLs for the next round.
type Enqueuer interface {
	Enqueue(urls ...string) (int, error)
}

// Deps are the collaborators of the router.
type Deps struct {
	Queries   Queries
	Sources   SourceManager
	Entries   EntryEditor
	Rules     RuleManager
	Queue     Enqueuer
	Heartbeat *health.Heartbeat
	// StaleAfter is how long the scheduler may go without progress
	// before /healthz reports unavailable. Zero disables the check.
	StaleAfter time.Duration
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d *Deps) http.Handler {
	h := &handler{deps: d, log: d.Logger}

	r := chi.NewRouter()
	r.Use(recoverer(d.Logger))
	r.Use(requestLogger(d.Logger))

	r.Get("/healthz", h.health)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Post("/pending", h.enqueue)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.listRules)
			r.Put("/", h.replaceRules)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.listEntries)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getEntry)
				r.Delete("/", h.deleteEntry)
				r.Put("/bookmark", h.bookmarkEntry)
			})
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", h.listSources)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getSource)
				r.Patch("/", h.configureSource)
				r.Delete("/", h.deleteSource)
				r.Get("/entries", h.listSourceEntries)
			})
		})
	})

	return r
}
