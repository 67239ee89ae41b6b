// Package scheduler runs the ingestion loop: it registers queued sources,
// fetches every due source in turn, stores the entries and idles until the
// next source becomes due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"rss_reader/internal/entries"
	"rss_reader/internal/fetcher"
	"rss_reader/internal/health"
	"rss_reader/internal/metrics"
	"rss_reader/internal/model"
	"rss_reader/internal/storage"
)

// Registry is the source registry used by the scheduler.
type Registry interface {
	Register(ctx context.Context, url string, props *model.SourceProperties) (*model.Source, error)
	UpdateProperties(ctx context.Context, src *model.Source, props *model.SourceProperties) error
	Get(ctx context.Context, id int64) (*model.Source, error)
	IDs(ctx context.Context) ([]int64, error)
	Count(ctx context.Context, q model.SourceQuery) (int, error)
	Remove(ctx context.Context, id int64) error
}

// EntryStore is the entry store used by the scheduler.
type EntryStore interface {
	Add(ctx context.Context, raw model.RawEntry, src *model.Source) (*model.Entry, error)
	DeleteBySource(ctx context.Context, src *model.Source) (int64, error)
	Count(ctx context.Context, q model.EntryQuery) (int, error)
	Cleanup(ctx context.Context) (entries.CleanupResult, error)
}

// Rules decides which sources are vetoed and which entries are kept.
type Rules interface {
	IsTriggered(ctx context.Context, url string) (bool, error)
	AcceptEntry(entry model.RawEntry, src *model.Source) bool
}

// Tracker records fetch times and answers due queries.
type Tracker interface {
	MarkFetched(url string, at time.Time)
	IsUpdateNeeded(src *model.Source, now time.Time) bool
	NextDue(src *model.Source) time.Time
	Forget(url string)
}

// Queue is the pending-sources queue.
type Queue interface {
	Enqueue(urls ...string) (int, error)
	Drain() ([]string, error)
	Signal() <-chan struct{}
	Pending() (bool, error)
}

// Deps are the collaborators of a Scheduler. Queue, Heartbeat and Metrics
// are optional.
type Deps struct {
	Sources   Registry
	Entries   EntryStore
	Rules     Rules
	Tracker   Tracker
	Adapter   fetcher.Adapter
	Queue     Queue
	Heartbeat *health.Heartbeat
	Metrics   *metrics.Collector
}

// Options tune the loop.
type Options struct {
	RulesEnabled    bool
	DiscoverSources bool
	InitialSources  []string

	SourcePacing time.Duration // minimum gap between two fetches
	InvalidPause time.Duration // pause after an invalid response
	RetryPause   time.Duration // pause after a failed round
	DueInterval  time.Duration // upper bound of a cooldown
	PollInterval time.Duration // cooldown polling step
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		RulesEnabled: true,
		SourcePacing: time.Second,
		InvalidPause: 5 * time.Second,
		RetryPause:   10 * time.Second,
		DueInterval:  time.Hour,
		PollInterval: 10 * time.Second,
	}
}

// RoundStats summarizes one fetch round.
type RoundStats struct {
	ID           string
	Registered   int
	Attempted    int
	Fetched      int
	Invalid      int
	Removed      int
	EntriesAdded int
	Cleaned      int64
	NextDue      time.Time // earliest known due time, zero if unknown
}

// Scheduler is the single writer of sources and entries.
type Scheduler struct {
	deps    Deps
	opts    Options
	log     *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a Scheduler.
func New(deps Deps, opts Options, log *slog.Logger) *Scheduler {
	if deps.Heartbeat == nil {
		deps.Heartbeat = health.NewHeartbeat()
	}
	limit := rate.Inf
	if opts.SourcePacing > 0 {
		limit = rate.Every(opts.SourcePacing)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.DueInterval <= 0 {
		opts.DueInterval = time.Hour
	}
	return &Scheduler{
		deps:    deps,
		opts:    opts,
		log:     log,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for due checks.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run starts the loop and blocks until ctx is cancelled. Failed rounds,
// panics included, are logged and retried after RetryPause.
func (s *Scheduler) Run(ctx context.Context) {
	s.startup(ctx)

	for ctx.Err() == nil {
		stats, err := s.safeRound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("fetch round failed", "round", stats.ID, "error", err, "retry_in", s.opts.RetryPause)
			s.beat()
			sleep(ctx, s.opts.RetryPause)
			continue
		}
		if stats.Attempted == 0 {
			s.cooldown(ctx, stats.NextDue)
		}
	}
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) safeRound(ctx context.Context) (stats RoundStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.RunOnce(ctx)
}

func (s *Scheduler) startup(ctx context.Context) {
	s.beat()

	nSources, err := s.deps.Sources.Count(ctx, model.SourceQuery{})
	if err != nil {
		s.log.Error("count sources", "error", err)
	}
	nEntries, err := s.deps.Entries.Count(ctx, model.EntryQuery{})
	if err != nil {
		s.log.Error("count entries", "error", err)
	}
	s.log.Info("scheduler starting", "sources", nSources, "entries", nEntries)

	if len(s.opts.InitialSources) > 0 {
		n, err := s.registerAll(ctx, s.log, s.opts.InitialSources)
		if err != nil {
			s.log.Error("register initial sources", "error", err)
		}
		s.log.Info("initial sources registered", "count", n)
	}
}

// RunOnce performs a single round: drain the pending queue, visit every
// source once and run retention cleanup.
func (s *Scheduler) RunOnce(ctx context.Context) (RoundStats, error) {
	stats := RoundStats{ID: uuid.NewString()}
	log := s.log.With("round", stats.ID)
	s.beat()

	if err := s.addPending(ctx, log, &stats); err != nil {
		return stats, err
	}

	ids, err := s.deps.Sources.IDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("list sources: %w", err)
	}
	log.Debug("round started", "sources", len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.processSource(ctx, log, id, &stats); err != nil {
			return stats, err
		}
		s.beat()
	}

	res, err := s.deps.Entries.Cleanup(ctx)
	if err != nil {
		return stats, err
	}
	stats.Cleaned = res.Expired + res.Trimmed
	s.deps.Metrics.RecordCleanup(stats.Cleaned)
	s.deps.Metrics.RecordRound()

	if stats.Attempted > 0 || stats.Registered > 0 {
		log.Info("round finished",
			"registered", stats.Registered,
			"fetched", stats.Fetched,
			"invalid", stats.Invalid,
			"removed", stats.Removed,
			"entries_added", stats.EntriesAdded,
			"cleaned", stats.Cleaned,
		)
	}
	return stats, nil
}

func (s *Scheduler) addPending(ctx context.Context, log *slog.Logger, stats *RoundStats) error {
	if s.deps.Queue == nil {
		return nil
	}
	urls, err := s.deps.Queue.Drain()
	if err != nil {
		log.Error("drain pending sources", "error", err)
		return nil
	}
	n, err := s.registerAll(ctx, log, urls)
	stats.Registered += n
	return err
}

func (s *Scheduler) registerAll(ctx context.Context, log *slog.Logger, urls []string) (int, error) {
	n := 0
	for i, u := range urls {
		if s.opts.RulesEnabled {
			blocked, err := s.deps.Rules.IsTriggered(ctx, u)
			if err != nil {
				s.requeue(log, urls[i:])
				return n, fmt.Errorf("check rules: %w", err)
			}
			if blocked {
				log.Info("skip blocked source", "url", u)
				continue
			}
		}
		if _, err := s.deps.Sources.Register(ctx, u, nil); err != nil {
			s.requeue(log, urls[i:])
			return n, fmt.Errorf("register source %q: %w", u, err)
		}
		n++
	}
	return n, nil
}

func (s *Scheduler) requeue(log *slog.Logger, urls []string) {
	if s.deps.Queue == nil || len(urls) == 0 {
		return
	}
	if _, err := s.deps.Queue.Enqueue(urls...); err != nil {
		log.Error("requeue pending sources", "count", len(urls), "error", err)
	}
}

func (s *Scheduler) processSource(ctx context.Context, log *slog.Logger, id int64, stats *RoundStats) error {
	src, err := s.deps.Sources.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("source disappeared", "source_id", id)
			return nil
		}
		return fmt.Errorf("get source %d: %w", id, err)
	}
	if !src.Enabled {
		return nil
	}
	log = log.With("source_id", src.ID, "url", src.URL)

	if s.opts.RulesEnabled {
		blocked, err := s.deps.Rules.IsTriggered(ctx, src.URL)
		if err != nil {
			return fmt.Errorf("check rules: %w", err)
		}
		if blocked {
			log.Info("source removed by rule")
			return s.removeSource(ctx, src, "rule", stats)
		}
	}

	now := s.now()
	if !s.deps.Tracker.IsUpdateNeeded(src, now) {
		stats.noteDue(s.deps.Tracker.NextDue(src))
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	stats.Attempted++
	s.deps.Tracker.MarkFetched(src.URL, now)
	stats.noteDue(s.deps.Tracker.NextDue(src))

	start := time.Now()
	resp, err := s.deps.Adapter.Fetch(ctx, src.URL)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.deps.Metrics.RecordFetch(metrics.OutcomeError, elapsed)
		if errors.Is(err, fetcher.ErrInvalidURL) {
			log.Warn("remove source that cannot be fetched", "stage", "fetch", "error", err)
			return s.removeSource(ctx, src, "invalid_url", stats)
		}
		log.Error("fetch source", "stage", "fetch", "error", err)
		return nil
	}

	if !resp.IsValid() {
		stats.Invalid++
		s.deps.Metrics.RecordFetch(metrics.OutcomeInvalid, elapsed)
		log.Warn("invalid fetch response", "stage", "fetch", "status", resp.StatusCode, "error", resp.Err)
		sleep(ctx, s.opts.InvalidPause)
		return nil
	}
	s.deps.Metrics.RecordFetch(metrics.OutcomeOK, elapsed)

	added, err := s.storeResponse(ctx, log, src, resp)
	if err != nil {
		return err
	}
	stats.Fetched++
	stats.EntriesAdded += added
	s.deps.Metrics.RecordEntriesAdded(added)
	log.Info("source fetched", "entries", len(resp.Entries), "added", added, "duration", elapsed.Round(time.Millisecond))
	return nil
}

// storeResponse refreshes src from a valid response and replaces its entries.
func (s *Scheduler) storeResponse(ctx context.Context, log *slog.Logger, src *model.Source, resp *fetcher.Response) (int, error) {
	if err := s.deps.Sources.UpdateProperties(ctx, src, &resp.Properties); err != nil {
		return 0, fmt.Errorf("update source %d: %w", src.ID, err)
	}
	if _, err := s.deps.Entries.DeleteBySource(ctx, src); err != nil {
		return 0, fmt.Errorf("replace entries of source %d: %w", src.ID, err)
	}

	added := 0
	var discovered []string
	for _, raw := range resp.Entries {
		if !s.deps.Rules.AcceptEntry(raw, src) {
			log.Debug("entry rejected by pattern", "link", raw.Link)
			continue
		}
		e, err := s.deps.Entries.Add(ctx, raw, src)
		if err != nil {
			return added, fmt.Errorf("store entries of source %d: %w", src.ID, err)
		}
		if e != nil {
			added++
		}
		if s.opts.DiscoverSources && raw.Source != "" && raw.Source != src.URL {
			discovered = append(discovered, raw.Source)
		}
	}

	if len(discovered) > 0 && s.deps.Queue != nil {
		if _, err := s.deps.Queue.Enqueue(discovered...); err != nil {
			log.Error("queue discovered sources", "error", err)
		}
	}
	return added, nil
}

func (s *Scheduler) removeSource(ctx context.Context, src *model.Source, reason string, stats *RoundStats) error {
	if err := s.deps.Sources.Remove(ctx, src.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	s.deps.Tracker.Forget(src.URL)
	s.deps.Metrics.RecordSourceRemoved(reason)
	stats.Removed++
	return nil
}

// cooldown idles until nextDue or DueInterval from now, whichever is
// earlier, returning early when sources are queued or ctx is done. The
// queue is polled every PollInterval so URLs queued by another process
// are picked up too.
func (s *Scheduler) cooldown(ctx context.Context, nextDue time.Time) {
	until := s.now().Add(s.opts.DueInterval)
	if !nextDue.IsZero() && nextDue.Before(until) {
		until = nextDue
	}

	var queued <-chan struct{}
	if s.deps.Queue != nil {
		queued = s.deps.Queue.Signal()
	}

	s.log.Debug("cooldown", "until", until.UTC())
	for {
		s.beat()
		remaining := until.Sub(s.now())
		if remaining <= 0 {
			return
		}
		if s.queuePending() {
			s.log.Debug("pending sources queued, leaving cooldown")
			return
		}
		timer := time.NewTimer(min(remaining, s.opts.PollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-queued:
			timer.Stop()
			s.log.Debug("pending sources queued, leaving cooldown")
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) queuePending() bool {
	if s.deps.Queue == nil {
		return false
	}
	ok, err := s.deps.Queue.Pending()
	if err != nil {
		s.log.Error("check pending queue", "error", err)
		return false
	}
	return ok
}

func (s *Scheduler) beat() {
	s.deps.Heartbeat.Beat()
	s.deps.Metrics.RecordProgress(s.deps.Heartbeat.LastProgress())
}

func (st *RoundStats) noteDue(t time.Time) {
	if t.IsZero() {
		return
	}
	if st.NextDue.IsZero() || t.Before(st.NextDue) {
		st.NextDue = t
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
