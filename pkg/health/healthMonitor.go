// Package health evicts device channels that keep refusing deliveries.
package health

import (
	"context"
	"log/slog"
	"time"

	"pixbridge/pkg/registry"
)

// Evictor drops the live channel of a device.
type Evictor interface {
	Unregister(deviceID string) bool
}

// FailureRecord tracks failure state for a single device.
type FailureRecord struct {
	LastTime time.Time
	Count    int
}

// HealthMonitor counts refused deliveries per device and disconnects a device
// once it reaches threshold failures with each within window of the last.
// The kiosk reconnects with an empty send buffer.
type HealthMonitor struct {
	failures    map[string]FailureRecord
	failureChan <-chan registry.DeliveryFailure
	evictor     Evictor
	window      time.Duration
	threshold   int
}

// NewHealthMonitor creates a new HealthMonitor instance.
func NewHealthMonitor(
	failureChan <-chan registry.DeliveryFailure,
	evictor Evictor,
	window time.Duration,
	threshold int,
) *HealthMonitor {
	if threshold < 1 {
		threshold = 1
	}
	return &HealthMonitor{
		failures:    make(map[string]FailureRecord),
		failureChan: failureChan,
		evictor:     evictor,
		window:      window,
		threshold:   threshold,
	}
}

// Run starts the health monitor's main loop.
func (hm *HealthMonitor) Run(ctx context.Context) {
	slog.Info("Starting health monitor", "component", "HealthMonitor", "window", hm.window.String(), "threshold", hm.threshold)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping health monitor", "component", "HealthMonitor")
			return
		case failure := <-hm.failureChan:
			hm.handleFailure(failure)
		}
	}
}

// handleFailure processes a failure report and updates the failure count.
func (hm *HealthMonitor) handleFailure(failure registry.DeliveryFailure) {
	record, seen := hm.failures[failure.DeviceID]

	if seen && failure.Timestamp.Sub(record.LastTime) < hm.window {
		record.Count++
		slog.Debug("Failure count increased",
			"component", "HealthMonitor",
			"device_id", failure.DeviceID,
			"reason", failure.Reason,
			"count", record.Count,
			"threshold", hm.threshold,
		)
	} else {
		record.Count = 1
		slog.Debug("Failure window reset",
			"component", "HealthMonitor",
			"device_id", failure.DeviceID,
			"reason", failure.Reason,
		)
	}

	if record.Count >= hm.threshold {
		slog.Warn("Device exceeded delivery failure threshold, disconnecting",
			"component", "HealthMonitor",
			"device_id", failure.DeviceID,
			"count", record.Count,
		)
		hm.evictor.Unregister(failure.DeviceID)
		delete(hm.failures, failure.DeviceID)
		return
	}

	record.LastTime = failure.Timestamp
	hm.failures[failure.DeviceID] = record
}
