package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"rss_reader/internal/api"
	"rss_reader/internal/entries"
	"rss_reader/internal/fetcher"
	"rss_reader/internal/filter"
	"rss_reader/internal/health"
	"rss_reader/internal/metrics"
	"rss_reader/internal/pending"
	"rss_reader/internal/query"
	"rss_reader/internal/schedule"
	"rss_reader/internal/scheduler"
	"rss_reader/internal/security"
	"rss_reader/internal/sources"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion loop and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := ensureDir(cfg.SchedulePath); err != nil {
		return err
	}
	tracker, err := schedule.Open(cfg.SchedulePath, log)
	if err != nil {
		return fmt.Errorf("open schedule: %w", err)
	}
	defer func() { _ = tracker.Close() }()
	tracker.SetWindow(cfg.FreshnessWindow)
	tracker.HonorFetchPeriod(cfg.HonorFetchPeriod)

	if err := ensureDir(cfg.PendingPath); err != nil {
		return err
	}
	queue := pending.New(cfg.PendingPath)

	rules := filter.New(store, log)
	registry := sources.New(store, log)
	entryStore := entries.New(store, security.NewSanitizer(), log)
	entryStore.SetMaxEntries(cfg.MaxEntries)

	local := fetcher.New(security.NewClient(cfg.FetchTimeout, cfg.AllowPrivateHosts))
	local.SetTimeout(cfg.FetchTimeout)
	local.SetUserAgent(cfg.UserAgent)
	var adapter fetcher.Adapter = local
	if cfg.RemoteServerLocation != "" {
		remote := fetcher.NewRemote(&http.Client{Timeout: cfg.FetchTimeout}, cfg.RemoteServerLocation)
		remote.SetTimeout(cfg.FetchTimeout)
		adapter = fetcher.NewRouter(local, remote)
		log.Info("using remote fetch service", "location", cfg.RemoteServerLocation)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)
	heartbeat := health.NewHeartbeat()

	opts := scheduler.DefaultOptions()
	opts.RulesEnabled = cfg.RulesEnabled
	opts.DiscoverSources = cfg.DiscoverSources
	opts.InitialSources = cfg.InitSources
	opts.SourcePacing = cfg.SourcePacing
	opts.InvalidPause = cfg.InvalidPause
	opts.RetryPause = cfg.RetryPause
	opts.DueInterval = cfg.DueInterval
	opts.PollInterval = cfg.PollInterval

	sched := scheduler.New(scheduler.Deps{
		Sources:   registry,
		Entries:   entryStore,
		Rules:     rules,
		Tracker:   tracker,
		Adapter:   adapter,
		Queue:     queue,
		Heartbeat: heartbeat,
		Metrics:   collector,
	}, opts, log)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(&api.Deps{
			Queries:    query.New(store),
			Sources:    registry,
			Entries:    entryStore,
			Rules:      rules,
			Queue:      queue,
			Heartbeat:  heartbeat,
			StaleAfter: cfg.WatchdogStale,
			Gatherer:   reg,
			Logger:     log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if cfg.WatchdogStale > 0 {
			health.Watch(ctx, heartbeat, cfg.WatchdogStale, time.Minute, log, nil)
		}
	}()

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	log.Info("starting reader")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		log.Error("http server", "error", serveErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown http server", "error", err)
	}

	wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	log.Info("reader stopped")
	return nil
}
