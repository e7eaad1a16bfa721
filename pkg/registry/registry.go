// Package registry tracks which kiosk device is reachable on which channel
// and delivers envelopes to them.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pixbridge/pkg/models"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("channel closed")
	// ErrBufferFull is returned when a slow device cannot keep up.
	ErrBufferFull = errors.New("channel send buffer full")
)

// Channel is one live bidirectional connection to a device.
type Channel interface {
	// Send enqueues an envelope without blocking.
	Send(env models.Envelope) error
	// Ping asks the device for a liveness pong.
	Ping() error
	// Close terminates the connection. Safe to call more than once.
	Close()
	// Done is closed once the connection is gone.
	Done() <-chan struct{}
	// RemoteAddr identifies the peer for logs.
	RemoteAddr() string
}

type registration struct {
	channel     Channel
	alive       bool
	connectedAt time.Time
}

// DeviceStatus is the introspection view of a registration.
type DeviceStatus struct {
	DeviceID    string    `json:"device_id"`
	Connected   bool      `json:"connected"`
	Alive       bool      `json:"alive"`
	ConnectedAt time.Time `json:"connected_at"`
	RemoteAddr  string    `json:"remote_addr"`
}

// SendResult reports how many channels accepted an envelope. Zero means the
// event was queued nowhere.
type SendResult struct {
	Delivered int
}

// DeliveryFailure reports an envelope a device channel refused.
type DeliveryFailure struct {
	DeviceID  string
	Reason    string
	Timestamp time.Time
}

// Registry maps device ids to their single live channel.
type Registry struct {
	mu       sync.Mutex
	devices  map[string]*registration
	clock    clockwork.Clock
	failures chan<- DeliveryFailure
}

// NewRegistry creates an empty Registry.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		devices: make(map[string]*registration),
		clock:   clock,
	}
}

// ReportFailures makes Send publish refused deliveries on ch. Reports are
// dropped when ch is full. Call before the registry is used.
func (r *Registry) ReportFailures(ch chan<- DeliveryFailure) {
	r.failures = ch
}

// Register binds deviceID to ch. A previous channel for the same id is closed
// first. When ch finishes it unregisters itself, unless it was already
// replaced.
func (r *Registry) Register(deviceID string, ch Channel) {
	r.mu.Lock()
	previous := r.devices[deviceID]
	r.devices[deviceID] = &registration{
		channel:     ch,
		alive:       true,
		connectedAt: r.clock.Now(),
	}
	r.mu.Unlock()

	if previous != nil && previous.channel != ch {
		slog.Info("Replacing device channel", "component", "Registry", "device_id", deviceID,
			"old_remote", previous.channel.RemoteAddr(), "new_remote", ch.RemoteAddr())
		previous.channel.Close()
	}
	slog.Info("Device registered", "component", "Registry", "device_id", deviceID, "remote", ch.RemoteAddr())

	go func() {
		<-ch.Done()
		r.release(deviceID, ch)
	}()
}

// release drops the registration of deviceID only if it still points at ch.
func (r *Registry) release(deviceID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.devices[deviceID]; ok && current.channel == ch {
		delete(r.devices, deviceID)
		slog.Info("Device unregistered", "component", "Registry", "device_id", deviceID)
	}
}

// Unregister closes and forgets the channel of deviceID. It reports whether a
// channel was registered.
func (r *Registry) Unregister(deviceID string) bool {
	r.mu.Lock()
	current, ok := r.devices[deviceID]
	if ok {
		delete(r.devices, deviceID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	current.channel.Close()
	slog.Info("Device unregistered", "component", "Registry", "device_id", deviceID)
	return true
}

// IsConnected reports whether deviceID has a registered channel.
func (r *Registry) IsConnected(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[deviceID]
	return ok
}

// Touch marks the channel of deviceID alive. Pongs from a replaced channel
// are ignored.
func (r *Registry) Touch(deviceID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.devices[deviceID]; ok && current.channel == ch {
		current.alive = true
	}
}

// Send delivers env to deviceID, or to every registered device when deviceID
// is empty. Delivery is best-effort: offline devices miss the event.
func (r *Registry) Send(deviceID string, env models.Envelope) SendResult {
	targets := r.targets(deviceID)

	result := SendResult{}
	for id, ch := range targets {
		if err := ch.Send(env); err != nil {
			slog.Warn("Delivery failed", "component", "Registry", "device_id", id,
				"event_type", env.EventType, "event_id", env.EventID, "error", err)
			r.reportFailure(id, err)
			continue
		}
		result.Delivered++
	}
	return result
}

func (r *Registry) reportFailure(deviceID string, err error) {
	if r.failures == nil {
		return
	}
	select {
	case r.failures <- DeliveryFailure{DeviceID: deviceID, Reason: err.Error(), Timestamp: r.clock.Now()}:
	default:
	}
}

func (r *Registry) targets(deviceID string) map[string]Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := make(map[string]Channel)
	if deviceID != "" {
		if reg, ok := r.devices[deviceID]; ok {
			targets[deviceID] = reg.channel
		}
		return targets
	}
	for id, reg := range r.devices {
		targets[id] = reg.channel
	}
	return targets
}

// List returns every registration sorted by device id.
func (r *Registry) List() []DeviceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DeviceStatus, 0, len(r.devices))
	for id, reg := range r.devices {
		out = append(out, DeviceStatus{
			DeviceID:    id,
			Connected:   true,
			Alive:       reg.alive,
			ConnectedAt: reg.connectedAt,
			RemoteAddr:  reg.channel.RemoteAddr(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// CheckLiveness runs one heartbeat round: channels that have not answered
// since the previous round are closed and unregistered, the rest are marked
// pending and pinged. It returns the ids that were dropped.
func (r *Registry) CheckLiveness() []string {
	var dead []string
	var dropped []Channel
	var ping = make(map[string]Channel)

	r.mu.Lock()
	for id, reg := range r.devices {
		if !reg.alive {
			dead = append(dead, id)
			dropped = append(dropped, reg.channel)
			delete(r.devices, id)
			continue
		}
		reg.alive = false
		ping[id] = reg.channel
	}
	r.mu.Unlock()

	for i, ch := range dropped {
		slog.Warn("Device missed heartbeat, dropping", "component", "Registry", "device_id", dead[i])
		ch.Close()
	}
	for id, ch := range ping {
		if err := ch.Ping(); err != nil {
			slog.Warn("Heartbeat ping failed", "component", "Registry", "device_id", id, "error", err)
			ch.Close()
			r.release(id, ch)
			dead = append(dead, id)
		}
	}
	sort.Strings(dead)
	return dead
}

// Run starts the heartbeat loop.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Starting heartbeat", "component", "Registry", "interval", interval.String())
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping heartbeat", "component", "Registry")
			r.closeAll()
			return
		case <-ticker.Chan():
			r.CheckLiveness()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	channels := make([]Channel, 0, len(r.devices))
	for id, reg := range r.devices {
		channels = append(channels, reg.channel)
		delete(r.devices, id)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}
