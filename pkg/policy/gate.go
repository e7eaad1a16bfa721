// Package policy applies per-device mutes, blacklists and per-event-type
// cooldowns to ingested events.
package policy

import (
	"sort"
	"sync"
	"time"

	"pixbridge/pkg/models"
)

// Decision is the outcome of IsAllowed.
type Decision int

const (
	Allow Decision = iota
	Blocked
	Cooled
	Blacklisted
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Blocked:
		return "blocked"
	case Cooled:
		return "cooled"
	case Blacklisted:
		return "blacklisted"
	}
	return "unknown"
}

// Forever is the mute deadline for an indefinite mute.
var Forever = time.Unix(1<<62, 0)

// deviceState is the policy state of one device.
type deviceState struct {
	blocks      map[models.EventType]time.Time // muted until
	blacklisted bool
	cooldowns   map[models.EventType]time.Time // last allowed
}

func newDeviceState() *deviceState {
	return &deviceState{
		blocks:    make(map[models.EventType]time.Time),
		cooldowns: make(map[models.EventType]time.Time),
	}
}

func (s *deviceState) empty() bool {
	return !s.blacklisted && len(s.blocks) == 0 && len(s.cooldowns) == 0
}

// Gate holds the policy table for every device.
type Gate struct {
	mu        sync.Mutex
	devices   map[string]*deviceState
	cooldowns map[models.EventType]time.Duration
}

// NewGate creates a Gate. Event types missing from cooldowns have none.
func NewGate(cooldowns map[models.EventType]time.Duration) *Gate {
	table := make(map[models.EventType]time.Duration, len(cooldowns))
	for eventType, d := range cooldowns {
		if d > 0 {
			table[eventType] = d
		}
	}
	return &Gate{
		devices:   make(map[string]*deviceState),
		cooldowns: table,
	}
}

// device returns the state for deviceID, creating it. Callers hold mu.
func (g *Gate) device(deviceID string) *deviceState {
	state, ok := g.devices[deviceID]
	if !ok {
		state = newDeviceState()
		g.devices[deviceID] = state
	}
	return state
}

// IsAllowed evaluates blacklist, then mute, then cooldown. On Allow the
// cooldown timestamp for (deviceID, eventType) is refreshed.
func (g *Gate) IsAllowed(deviceID string, eventType models.EventType, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.devices[deviceID]
	if state != nil {
		if state.blacklisted {
			return Blacklisted
		}
		if until, ok := state.blocks[eventType]; ok {
			if until.After(now) {
				return Blocked
			}
			delete(state.blocks, eventType)
		}
	}

	cooldown, limited := g.cooldowns[eventType]
	if !limited {
		return Allow
	}
	if state == nil {
		state = g.device(deviceID)
	}
	if last, ok := state.cooldowns[eventType]; ok && now.Sub(last) < cooldown {
		return Cooled
	}
	state.cooldowns[eventType] = now
	return Allow
}

// Mute blocks eventType for deviceID until the given deadline.
func (g *Gate) Mute(deviceID string, eventType models.EventType, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.device(deviceID).blocks[eventType] = until
}

// Unmute clears one mute.
func (g *Gate) Unmute(deviceID string, eventType models.EventType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.devices[deviceID]; ok {
		delete(state.blocks, eventType)
		g.compact(deviceID, state)
	}
}

// UnmuteAll clears every mute of deviceID.
func (g *Gate) UnmuteAll(deviceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.devices[deviceID]; ok {
		state.blocks = make(map[models.EventType]time.Time)
		g.compact(deviceID, state)
	}
}

// Block blacklists deviceID.
func (g *Gate) Block(deviceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.device(deviceID).blacklisted = true
}

// Unblock lifts the blacklist of deviceID.
func (g *Gate) Unblock(deviceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.devices[deviceID]; ok {
		state.blacklisted = false
		g.compact(deviceID, state)
	}
}

// IsBlacklisted reports the hard block flag of deviceID.
func (g *Gate) IsBlacklisted(deviceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.devices[deviceID]
	return ok && state.blacklisted
}

func (g *Gate) compact(deviceID string, state *deviceState) {
	if state.empty() {
		delete(g.devices, deviceID)
	}
}

// Mute describes an active mute.
type Mute struct {
	EventType  models.EventType `json:"event_type"`
	Until      time.Time        `json:"until"`
	Indefinite bool             `json:"indefinite"`
}

// Snapshot is the admin view of one device's policy.
type Snapshot struct {
	DeviceID    string `json:"device_id"`
	Blacklisted bool   `json:"blacklisted"`
	Mutes       []Mute `json:"mutes"`
}

// Snapshot returns the active mutes and blacklist flag of deviceID at now.
func (g *Gate) Snapshot(deviceID string, now time.Time) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{DeviceID: deviceID, Mutes: []Mute{}}
	state, ok := g.devices[deviceID]
	if !ok {
		return snap
	}
	snap.Blacklisted = state.blacklisted
	for eventType, until := range state.blocks {
		if !until.After(now) {
			continue
		}
		mute := Mute{EventType: eventType, Until: until}
		if !until.Before(Forever) {
			mute.Indefinite = true
			mute.Until = time.Time{}
		}
		snap.Mutes = append(snap.Mutes, mute)
	}
	sort.Slice(snap.Mutes, func(i, j int) bool { return snap.Mutes[i].EventType < snap.Mutes[j].EventType })
	return snap
}
