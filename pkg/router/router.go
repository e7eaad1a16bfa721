// Package router runs the ingress pipeline: normalization, deduplication,
// policy and delivery to the device registry.
package router

import (
	"log/slog"
	"time"

	"pixbridge/pkg/dedup"
	"pixbridge/pkg/models"
	"pixbridge/pkg/policy"
	"pixbridge/pkg/registry"

	"github.com/jonboulle/clockwork"
)

// Outcome is what happened to one ingested event. Producers never see it.
type Outcome string

const (
	Routed      Outcome = "routed"
	Undelivered Outcome = "undelivered"
	Malformed   Outcome = "malformed"
	Duplicate   Outcome = "duplicate"
	Stale       Outcome = "stale"
	Blocked     Outcome = "blocked"
	Cooled      Outcome = "cooled"
	Blacklisted Outcome = "blacklisted"
	// Forbidden marks an admin command arriving on the public ingress.
	Forbidden Outcome = "forbidden"
)

// Deduplicator is the identity/time filter used by the router.
type Deduplicator interface {
	ShouldProcess(deviceID, eventID string, createdAt int64) dedup.Verdict
}

// PolicyGate is the mute/blacklist/cooldown filter used by the router.
type PolicyGate interface {
	IsAllowed(deviceID string, eventType models.EventType, now time.Time) policy.Decision
}

// Deliverer sends envelopes to device channels.
type Deliverer interface {
	Send(deviceID string, env models.Envelope) registry.SendResult
}

// Recorder receives every ingested envelope with its outcome. Record must not
// block.
type Recorder interface {
	Record(env models.Envelope, outcome Outcome)
}

// Router wires the pipeline stages together.
type Router struct {
	dedup    Deduplicator
	gate     PolicyGate
	devices  Deliverer
	recorder Recorder
	clock    clockwork.Clock
}

// NewRouter creates a Router. recorder may be nil.
func NewRouter(d Deduplicator, g PolicyGate, devices Deliverer, recorder Recorder, clock clockwork.Clock) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Router{
		dedup:    d,
		gate:     g,
		devices:  devices,
		recorder: recorder,
		clock:    clock,
	}
}

// Ingest runs env through the pipeline and reports the outcome. Admin
// commands are never routed from here; only the admin plane sends them.
func (r *Router) Ingest(env models.Envelope) Outcome {
	var outcome Outcome
	if _, ok := models.ParseEventType(string(env.EventType)); !ok {
		slog.Warn("Dropping malformed event", "component", "Router",
			"event_type", env.EventType, "device_id", env.DeviceID)
		outcome = Malformed
	} else if env.EventType.IsAdminCommand() {
		slog.Warn("Dropping admin command from ingress", "component", "Router",
			"event_type", env.EventType, "device_id", env.DeviceID)
		outcome = Forbidden
	} else {
		env.Normalize(r.clock.Now())
		outcome = r.route(env)
	}
	if r.recorder != nil {
		r.recorder.Record(env, outcome)
	}
	return outcome
}

func (r *Router) route(env models.Envelope) Outcome {
	logger := slog.With("component", "Router", "device_id", env.DeviceID,
		"event_type", env.EventType, "event_id", env.EventID)

	switch r.dedup.ShouldProcess(env.DeviceID, env.EventID, env.CreatedAt) {
	case dedup.Duplicate:
		logger.Info("Dropping duplicate event")
		return Duplicate
	case dedup.Stale:
		logger.Info("Dropping stale event", "created_at", env.CreatedAt)
		return Stale
	}

	switch r.gate.IsAllowed(env.DeviceID, env.EventType, r.clock.Now()) {
	case policy.Blacklisted:
		logger.Info("Dropping event for blacklisted device")
		return Blacklisted
	case policy.Blocked:
		logger.Info("Dropping muted event")
		return Blocked
	case policy.Cooled:
		logger.Info("Dropping event inside cooldown")
		return Cooled
	}

	result := r.devices.Send(env.DeviceID, env)
	if result.Delivered == 0 {
		logger.Info("No live channel for event")
		return Undelivered
	}
	logger.Info("Event routed", "delivered", result.Delivered)
	return Routed
}
