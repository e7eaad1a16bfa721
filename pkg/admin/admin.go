// Package admin implements the operator control plane: mutes, blacklists,
// disconnects and direct kiosk commands.
package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pixbridge/pkg/models"
	"pixbridge/pkg/policy"
	"pixbridge/pkg/registry"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrUnauthorized is returned for a missing or invalid admin credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownCommand is returned for a command outside the admin vocabulary.
	ErrUnknownCommand = errors.New("unknown admin command")
	// ErrDeviceRequired is returned when an operation needs a device id.
	ErrDeviceRequired = errors.New("device_id is required")
)

// Service mutates the policy gate and device registry. Every call takes
// effect before it returns.
type Service struct {
	gate        *policy.Gate
	devices     *registry.Registry
	clock       clockwork.Clock
	defaultMute time.Duration
}

// NewService creates the admin control plane.
func NewService(gate *policy.Gate, devices *registry.Registry, defaultMute time.Duration, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defaultMute <= 0 {
		defaultMute = 10 * time.Minute
	}
	return &Service{
		gate:        gate,
		devices:     devices,
		clock:       clock,
		defaultMute: defaultMute,
	}
}

// Mute silences eventType for deviceID. A zero duration uses the default,
// a negative one mutes until an explicit unmute.
func (s *Service) Mute(deviceID string, eventType models.EventType, duration time.Duration) (time.Time, error) {
	if deviceID == "" {
		return time.Time{}, ErrDeviceRequired
	}
	if _, ok := models.ParseEventType(string(eventType)); !ok {
		return time.Time{}, fmt.Errorf("mute %q: unknown event type", eventType)
	}
	if duration == 0 {
		duration = s.defaultMute
	}
	until := policy.Forever
	if duration > 0 {
		until = s.clock.Now().Add(duration)
	}
	s.gate.Mute(deviceID, eventType, until)
	slog.Info("Event type muted", "component", "Admin", "device_id", deviceID,
		"event_type", eventType, "indefinite", duration < 0, "duration", duration.String())
	return until, nil
}

// Unmute clears one mute, or every mute of deviceID when eventType is empty.
func (s *Service) Unmute(deviceID string, eventType models.EventType) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	if eventType == "" {
		s.gate.UnmuteAll(deviceID)
		slog.Info("All mutes cleared", "component", "Admin", "device_id", deviceID)
		return nil
	}
	s.gate.Unmute(deviceID, eventType)
	slog.Info("Event type unmuted", "component", "Admin", "device_id", deviceID, "event_type", eventType)
	return nil
}

// Block blacklists deviceID and drops its live channel.
func (s *Service) Block(deviceID string) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	s.gate.Block(deviceID)
	disconnected := s.devices.Unregister(deviceID)
	slog.Info("Device blocked", "component", "Admin", "device_id", deviceID, "disconnected", disconnected)
	return nil
}

// Unblock lifts the blacklist of deviceID.
func (s *Service) Unblock(deviceID string) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	s.gate.Unblock(deviceID)
	slog.Info("Device unblocked", "component", "Admin", "device_id", deviceID)
	return nil
}

// Disconnect closes the live channel of deviceID without blacklisting it.
// It reports whether a channel was open.
func (s *Service) Disconnect(deviceID string) (bool, error) {
	if deviceID == "" {
		return false, ErrDeviceRequired
	}
	disconnected := s.devices.Unregister(deviceID)
	slog.Info("Device disconnected", "component", "Admin", "device_id", deviceID, "was_connected", disconnected)
	return disconnected, nil
}

// DeviceStatus is one row of ListConnected.
type DeviceStatus struct {
	DeviceID    string    `json:"deviceId"`
	Connected   bool      `json:"connected"`
	Alive       bool      `json:"alive"`
	Blacklisted bool      `json:"blacklisted"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ListConnected lists the registered devices.
func (s *Service) ListConnected() []DeviceStatus {
	registered := s.devices.List()
	out := make([]DeviceStatus, 0, len(registered))
	for _, d := range registered {
		out = append(out, DeviceStatus{
			DeviceID:    d.DeviceID,
			Connected:   d.Connected,
			Alive:       d.Alive,
			Blacklisted: s.gate.IsBlacklisted(d.DeviceID),
			ConnectedAt: d.ConnectedAt,
		})
	}
	return out
}

// Policy returns the policy snapshot of deviceID.
func (s *Service) Policy(deviceID string) policy.Snapshot {
	return s.gate.Snapshot(deviceID, s.clock.Now())
}

// Command pushes an operator command straight to a kiosk, bypassing
// deduplication and policy. An empty deviceID broadcasts.
func (s *Service) Command(deviceID string, eventType models.EventType, payload map[string]any) (registry.SendResult, error) {
	if !eventType.IsAdminCommand() {
		return registry.SendResult{}, fmt.Errorf("%w: %q", ErrUnknownCommand, eventType)
	}
	if eventType == models.EventSetDeviceID {
		if deviceID == "" {
			return registry.SendResult{}, ErrDeviceRequired
		}
		if id, _ := payload["newId"].(string); id == "" {
			return registry.SendResult{}, fmt.Errorf("set_device_id: payload.newId is required")
		}
	}

	env := models.Envelope{
		EventType: eventType,
		DeviceID:  deviceID,
		Payload:   payload,
	}
	env.Normalize(s.clock.Now())
	result := s.devices.Send(deviceID, env)
	slog.Info("Admin command sent", "component", "Admin", "device_id", deviceID,
		"event_type", eventType, "delivered", result.Delivered)
	return result, nil
}
