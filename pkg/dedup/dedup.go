// Package dedup decides from an event's identity and producer timestamp
// whether it has already been processed within the retry window.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Verdict is the outcome of ShouldProcess.
type Verdict int

const (
	Process Verdict = iota
	Duplicate
	Stale
)

func (v Verdict) String() string {
	switch v {
	case Process:
		return "process"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// DefaultTTL is the retry window used when none is configured.
const DefaultTTL = 15 * time.Second

// Deduplicator tracks, per device, when each event id was last accepted.
// It knows nothing about policy.
type Deduplicator struct {
	mu    sync.Mutex
	seen  map[string]map[string]time.Time // device_id -> event_id -> accepted at
	ttl   time.Duration
	clock clockwork.Clock
}

// NewDeduplicator creates a Deduplicator with the given window.
func NewDeduplicator(ttl time.Duration, clock clockwork.Clock) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deduplicator{
		seen:  make(map[string]map[string]time.Time),
		ttl:   ttl,
		clock: clock,
	}
}

// ShouldProcess classifies an occurrence. createdAt is in milliseconds since
// epoch. On Process the id is recorded before returning so a re-entrant
// delivery of the same event cannot be processed twice.
func (d *Deduplicator) ShouldProcess(deviceID, eventID string, createdAt int64) Verdict {
	now := d.clock.Now()

	if createdAt > 0 && now.Sub(time.UnixMilli(createdAt)) > d.ttl {
		return Stale
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.seen[deviceID]
	if ids == nil {
		ids = make(map[string]time.Time)
		d.seen[deviceID] = ids
	}
	if last, ok := ids[eventID]; ok && now.Sub(last) <= d.ttl {
		return Duplicate
	}
	ids[eventID] = now
	return Process
}

// Sweep drops entries older than the window and returns how many were removed.
func (d *Deduplicator) Sweep() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for deviceID, ids := range d.seen {
		for eventID, last := range ids {
			if now.Sub(last) > d.ttl {
				delete(ids, eventID)
				removed++
			}
		}
		if len(ids) == 0 {
			delete(d.seen, deviceID)
		}
	}
	return removed
}

// Len returns the number of tracked event ids across all devices.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, ids := range d.seen {
		n += len(ids)
	}
	return n
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (d *Deduplicator) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Starting dedup sweeper", "component", "Deduplicator", "ttl", d.ttl.String(), "interval", interval.String())
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping dedup sweeper", "component", "Deduplicator")
			return
		case <-ticker.Chan():
			if removed := d.Sweep(); removed > 0 {
				slog.Debug("Swept expired event ids", "component", "Deduplicator", "removed", removed)
			}
		}
	}
}
