package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pixbridge/pkg/models"
	"pixbridge/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (r *recordingEvictor) Unregister(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, deviceID)
	return true
}

func (r *recordingEvictor) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.evicted...)
}

func failureAt(deviceID string, at time.Time) registry.DeliveryFailure {
	return registry.DeliveryFailure{DeviceID: deviceID, Reason: "channel send buffer full", Timestamp: at}
}

func TestEvictsAfterThresholdWithinWindow(t *testing.T) {
	evictor := &recordingEvictor{}
	hm := NewHealthMonitor(nil, evictor, time.Minute, 3)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	hm.handleFailure(failureAt("kiosk-1", start))
	hm.handleFailure(failureAt("kiosk-1", start.Add(10*time.Second)))
	assert.Empty(t, evictor.list())

	hm.handleFailure(failureAt("kiosk-1", start.Add(20*time.Second)))
	assert.Equal(t, []string{"kiosk-1"}, evictor.list())
	assert.NotContains(t, hm.failures, "kiosk-1")
}

func TestFailureWindowResets(t *testing.T) {
	evictor := &recordingEvictor{}
	hm := NewHealthMonitor(nil, evictor, time.Minute, 2)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	hm.handleFailure(failureAt("kiosk-1", start))
	hm.handleFailure(failureAt("kiosk-1", start.Add(2*time.Minute)))
	assert.Empty(t, evictor.list())
	assert.Equal(t, 1, hm.failures["kiosk-1"].Count)

	hm.handleFailure(failureAt("kiosk-2", start.Add(2*time.Minute)))
	assert.Empty(t, evictor.list(), "devices are counted separately")
}

type fullChannel struct {
	done      chan struct{}
	closeOnce sync.Once
}

func (f *fullChannel) Send(models.Envelope) error { return errors.New("channel send buffer full") }
func (f *fullChannel) Ping() error                { return nil }
func (f *fullChannel) Close()                     { f.closeOnce.Do(func() { close(f.done) }) }
func (f *fullChannel) Done() <-chan struct{}      { return f.done }
func (f *fullChannel) RemoteAddr() string         { return "full" }

func TestRunDisconnectsSlowDevice(t *testing.T) {
	devices := registry.NewRegistry(nil)
	failures := make(chan registry.DeliveryFailure, 8)
	devices.ReportFailures(failures)

	ch := &fullChannel{done: make(chan struct{})}
	devices.Register("kiosk-1", ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewHealthMonitor(failures, devices, time.Minute, 2).Run(ctx)

	for i := 0; i < 2; i++ {
		result := devices.Send("kiosk-1", models.Envelope{EventType: models.EventPrinting, DeviceID: "kiosk-1"})
		require.Zero(t, result.Delivered)
	}

	require.Eventually(t, func() bool { return !devices.IsConnected("kiosk-1") }, 2*time.Second, 10*time.Millisecond)
	<-ch.Done()
}
