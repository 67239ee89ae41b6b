package health

import (
	"context"
	"log/slog"
	"time"
)

// Watch logs an error every time the heartbeat has been stale for longer
// than limit, checking every interval until ctx is done. onStale, when not
// nil, is called with the time since the last beat.
func Watch(ctx context.Context, h *Heartbeat, limit, interval time.Duration, log *slog.Logger, onStale func(time.Duration)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.Stale(limit) {
				continue
			}
			since := time.Since(h.LastProgress())
			log.Error("scheduler stalled", "last_progress", h.LastProgress().UTC(), "since", since.Round(time.Second))
			if onStale != nil {
				onStale(since)
			}
		}
	}
}
