package dedup

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestShouldProcess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDeduplicator(15*time.Second, clock)
	now := clock.Now().UnixMilli()

	assert.Equal(t, Process, d.ShouldProcess("kiosk-1", "evt-1", now))
	assert.Equal(t, Duplicate, d.ShouldProcess("kiosk-1", "evt-1", now))

	// Same id on another device is an independent occurrence.
	assert.Equal(t, Process, d.ShouldProcess("kiosk-2", "evt-1", now))

	clock.Advance(10 * time.Second)
	assert.Equal(t, Duplicate, d.ShouldProcess("kiosk-1", "evt-1", clock.Now().UnixMilli()))
}

func TestShouldProcessOutsideWindowIsNewOccurrence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDeduplicator(15*time.Second, clock)

	assert.Equal(t, Process, d.ShouldProcess("kiosk-1", "evt-1", clock.Now().UnixMilli()))
	clock.Advance(16 * time.Second)
	assert.Equal(t, Process, d.ShouldProcess("kiosk-1", "evt-1", clock.Now().UnixMilli()))
}

func TestShouldProcessStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDeduplicator(15*time.Second, clock)

	old := clock.Now().Add(-16 * time.Second).UnixMilli()
	assert.Equal(t, Stale, d.ShouldProcess("kiosk-1", "evt-old", old))
	// Stale events are not recorded, and a fresh retry with a new id passes.
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, Process, d.ShouldProcess("kiosk-1", "evt-new", clock.Now().UnixMilli()))

	// Stale wins even for an id never seen before.
	assert.Equal(t, Stale, d.ShouldProcess("kiosk-9", "never-seen", old))

	// Exactly at the window edge is still fresh.
	edge := clock.Now().Add(-15 * time.Second).UnixMilli()
	assert.Equal(t, Process, d.ShouldProcess("kiosk-1", "evt-edge", edge))
}

func TestSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDeduplicator(15*time.Second, clock)

	d.ShouldProcess("kiosk-1", "a", clock.Now().UnixMilli())
	d.ShouldProcess("kiosk-2", "b", clock.Now().UnixMilli())
	clock.Advance(10 * time.Second)
	d.ShouldProcess("kiosk-1", "c", clock.Now().UnixMilli())

	clock.Advance(6 * time.Second)
	assert.Equal(t, 2, d.Sweep())
	assert.Equal(t, 1, d.Len())
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "process", Process.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "stale", Stale.String())
}
