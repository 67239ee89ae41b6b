// Package health tracks scheduler liveness.
package health

import (
	"sync/atomic"
	"time"
)

// Heartbeat holds the time the scheduler last made progress.
type Heartbeat struct {
	last atomic.Int64
	now  func() time.Time
}

// NewHeartbeat creates a Heartbeat that starts beating now.
func NewHeartbeat() *Heartbeat {
	h := &Heartbeat{now: time.Now}
	h.Beat()
	return h
}

// Beat records progress.
func (h *Heartbeat) Beat() {
	h.last.Store(h.now().UnixNano())
}

// LastProgress returns the time of the latest Beat.
func (h *Heartbeat) LastProgress() time.Time {
	return time.Unix(0, h.last.Load())
}

// Stale reports whether no Beat happened within d.
func (h *Heartbeat) Stale(d time.Duration) bool {
	return h.now().Sub(h.LastProgress()) > d
}
