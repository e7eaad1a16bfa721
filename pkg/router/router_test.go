package router

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"pixbridge/pkg/dedup"
	"pixbridge/pkg/models"
	"pixbridge/pkg/policy"
	"pixbridge/pkg/registry"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDeliverer struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      []models.Envelope
}

func (s *stubDeliverer) Send(deviceID string, env models.Envelope) registry.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deviceID != "" && !s.connected[deviceID] {
		return registry.SendResult{}
	}
	s.sent = append(s.sent, env)
	return registry.SendResult{Delivered: 1}
}

type memoryRecorder struct {
	outcomes []Outcome
}

func (m *memoryRecorder) Record(_ models.Envelope, outcome Outcome) {
	m.outcomes = append(m.outcomes, outcome)
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type fixture struct {
	clock    fakeClock
	gate     *policy.Gate
	devices  *stubDeliverer
	recorder *memoryRecorder
	router   *Router
}

func newFixture() *fixture {
	clock := clockwork.NewFakeClock()
	gate := policy.NewGate(map[models.EventType]time.Duration{models.EventPaymentComplete: time.Minute})
	devices := &stubDeliverer{connected: map[string]bool{"kiosk-1": true}}
	recorder := &memoryRecorder{}
	return &fixture{
		clock:    clock,
		gate:     gate,
		devices:  devices,
		recorder: recorder,
		router:   NewRouter(dedup.NewDeduplicator(15*time.Second, clock), gate, devices, recorder, clock),
	}
}

func (f *fixture) envelope(eventType models.EventType, eventID string) models.Envelope {
	return models.Envelope{
		EventType: eventType,
		DeviceID:  "kiosk-1",
		EventID:   eventID,
		CreatedAt: f.clock.Now().UnixMilli(),
	}
}

func TestIngestRoutes(t *testing.T) {
	f := newFixture()

	assert.Equal(t, Routed, f.router.Ingest(f.envelope(models.EventSessionStart, "e1")))
	require.Len(t, f.devices.sent, 1)
	assert.Equal(t, "e1", f.devices.sent[0].EventID)
	assert.Equal(t, []Outcome{Routed}, f.recorder.outcomes)
}

func TestIngestSynthesizesIdentity(t *testing.T) {
	f := newFixture()

	env := models.Envelope{EventType: models.EventPrinting, DeviceID: "kiosk-1"}
	assert.Equal(t, Routed, f.router.Ingest(env))
	// Same producer timestamp, no id: the synthesized id collides.
	assert.Equal(t, Duplicate, f.router.Ingest(env))

	require.Len(t, f.devices.sent, 1)
	want := models.SynthesizeEventID(models.EventPrinting, "kiosk-1", f.clock.Now().UnixMilli())
	assert.Equal(t, want, f.devices.sent[0].EventID)
}

func TestIngestDropsMalformed(t *testing.T) {
	f := newFixture()

	assert.Equal(t, Malformed, f.router.Ingest(models.Envelope{DeviceID: "kiosk-1"}))
	assert.Equal(t, Malformed, f.router.Ingest(models.Envelope{EventType: "selfie", DeviceID: "kiosk-1"}))
	assert.Empty(t, f.devices.sent)
}

func TestIngestIdempotentUnderRetry(t *testing.T) {
	f := newFixture()
	env := f.envelope(models.EventCaptureStart, "retry-me")

	assert.Equal(t, Routed, f.router.Ingest(env))
	f.clock.Advance(5 * time.Second)
	assert.Equal(t, Duplicate, f.router.Ingest(env))
	assert.Len(t, f.devices.sent, 1)
}

func TestIngestDropsStale(t *testing.T) {
	f := newFixture()
	env := f.envelope(models.EventProcessingStart, "late")
	f.clock.Advance(16 * time.Second)

	assert.Equal(t, Stale, f.router.Ingest(env))
	assert.Empty(t, f.devices.sent)
}

func TestIngestPolicy(t *testing.T) {
	f := newFixture()

	assert.Equal(t, Routed, f.router.Ingest(f.envelope(models.EventPaymentComplete, "p1")))
	assert.Equal(t, Cooled, f.router.Ingest(f.envelope(models.EventPaymentComplete, "p2")))

	f.gate.Mute("kiosk-1", models.EventSessionStart, policy.Forever)
	assert.Equal(t, Blocked, f.router.Ingest(f.envelope(models.EventSessionStart, "s1")))

	f.gate.Block("kiosk-1")
	assert.Equal(t, Blacklisted, f.router.Ingest(f.envelope(models.EventSessionEnd, "s2")))

	assert.Len(t, f.devices.sent, 1)
}

func TestIngestUndelivered(t *testing.T) {
	f := newFixture()
	env := f.envelope(models.EventSessionStart, "e1")
	env.DeviceID = "offline"

	assert.Equal(t, Undelivered, f.router.Ingest(env))
}

func TestIngestBroadcast(t *testing.T) {
	f := newFixture()
	env := f.envelope(models.EventSessionEnd, "b1")
	env.DeviceID = ""

	assert.Equal(t, Routed, f.router.Ingest(env))
}

func TestIngestRejectsAdminCommands(t *testing.T) {
	f := newFixture()

	for i, eventType := range []models.EventType{models.EventResetCredit, models.EventForcePayment, models.EventSetDeviceID} {
		env := f.envelope(eventType, fmt.Sprintf("cmd-%d", i))
		env.Payload = map[string]any{"newId": "intruder"}
		assert.Equal(t, Forbidden, f.router.Ingest(env), eventType)

		broadcast := f.envelope(eventType, fmt.Sprintf("all-%d", i))
		broadcast.DeviceID = ""
		assert.Equal(t, Forbidden, f.router.Ingest(broadcast), eventType)
	}

	assert.Empty(t, f.devices.sent)
	assert.Len(t, f.recorder.outcomes, 6)
	assert.Equal(t, Forbidden, f.recorder.outcomes[0])
}
