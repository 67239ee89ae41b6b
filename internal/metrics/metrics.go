// Package metrics exposes ingestion counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Collector records ingestion metrics. A nil *Collector is a no-op.
type Collector struct {
	rounds         prometheus.Counter
	fetches        *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	entriesAdded   prometheus.Counter
	sourcesRemoved *prometheus.CounterVec
	entriesCleaned prometheus.Counter
	lastProgress   prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_rounds_total",
			Help: "Completed fetch rounds.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reader_fetches_total",
			Help: "Source fetches by outcome.",
		}, []string{"outcome"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reader_fetch_duration_seconds",
			Help:    "Duration of source fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		entriesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_entries_added_total",
			Help: "Entries stored.",
		}),
		sourcesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reader_sources_removed_total",
			Help: "Sources removed by the scheduler, by reason.",
		}, []string{"reason"}),
		entriesCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reader_entries_cleaned_total",
			Help: "Entries removed by retention cleanup.",
		}),
		lastProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reader_last_progress_timestamp_seconds",
			Help: "Unix time of the latest scheduler heartbeat.",
		}),
	}

	reg.MustRegister(
		c.rounds,
		c.fetches,
		c.fetchLatency,
		c.entriesAdded,
		c.sourcesRemoved,
		c.entriesCleaned,
		c.lastProgress,
	)
	return c
}

// RecordRound counts a finished round.
func (c *Collector) RecordRound() {
	if c == nil {
		return
	}
	c.rounds.Inc()
}

// RecordFetch counts a fetch with its outcome and duration.
func (c *Collector) RecordFetch(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(outcome).Inc()
	c.fetchLatency.Observe(d.Seconds())
}

// RecordEntriesAdded counts stored entries.
func (c *Collector) RecordEntriesAdded(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.entriesAdded.Add(float64(n))
}

// RecordSourceRemoved counts a source removed for reason.
func (c *Collector) RecordSourceRemoved(reason string) {
	if c == nil {
		return
	}
	c.sourcesRemoved.WithLabelValues(reason).Inc()
}

// RecordCleanup counts entries removed by retention.
func (c *Collector) RecordCleanup(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.entriesCleaned.Add(float64(n))
}

// RecordProgress exports the heartbeat time.
func (c *Collector) RecordProgress(t time.Time) {
	if c == nil {
		return
	}
	c.lastProgress.Set(float64(t.Unix()))
}

// Handler serves the metrics gathered by gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
