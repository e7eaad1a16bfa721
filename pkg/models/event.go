package models

import (
	"fmt"
	"strconv"
	"time"
)

// EventType is a tag from the fixed booth event vocabulary.
type EventType string

const (
	// Booth lifecycle events
	EventSessionStart    EventType = "session_start"
	EventCountdownStart  EventType = "countdown_start"
	EventCountdown       EventType = "countdown"
	EventCaptureStart    EventType = "capture_start"
	EventFileDownload    EventType = "file_download"
	EventProcessingStart EventType = "processing_start"
	EventSharingScreen   EventType = "sharing_screen"
	EventPrinting        EventType = "printing"
	EventFileUpload      EventType = "file_upload"
	EventSessionEnd      EventType = "session_end"

	// Payment and capture process signals
	EventPaymentComplete EventType = "payment_complete"
	EventDSLRStarted     EventType = "dslr_started"

	// Admin commands forwarded to a kiosk
	EventResetCredit  EventType = "reset_credit"
	EventForcePayment EventType = "force_payment"
	EventSetDeviceID  EventType = "set_device_id"
)

var vocabulary = map[EventType]struct{}{
	EventSessionStart:    {},
	EventCountdownStart:  {},
	EventCountdown:       {},
	EventCaptureStart:    {},
	EventFileDownload:    {},
	EventProcessingStart: {},
	EventSharingScreen:   {},
	EventPrinting:        {},
	EventFileUpload:      {},
	EventSessionEnd:      {},
	EventPaymentComplete: {},
	EventDSLRStarted:     {},
	EventResetCredit:     {},
	EventForcePayment:    {},
	EventSetDeviceID:     {},
}

// ParseEventType maps a raw tag onto the vocabulary.
func ParseEventType(raw string) (EventType, bool) {
	t := EventType(raw)
	_, ok := vocabulary[t]
	return t, ok
}

// IsLifecycle reports whether the event belongs to the booth session lifecycle
// (the events the session state machine reacts to, session_start included).
func (t EventType) IsLifecycle() bool {
	switch t {
	case EventSessionStart, EventCountdownStart, EventCountdown, EventCaptureStart,
		EventFileDownload, EventProcessingStart, EventSharingScreen, EventPrinting,
		EventFileUpload, EventSessionEnd:
		return true
	}
	return false
}

// IsAdminCommand reports whether the event is an operator command for a kiosk.
func (t EventType) IsAdminCommand() bool {
	switch t {
	case EventResetCredit, EventForcePayment, EventSetDeviceID:
		return true
	}
	return false
}

// Envelope is the normalized representation of an inbound booth occurrence.
type Envelope struct {
	EventType EventType      `json:"event_type"`
	DeviceID  string         `json:"device_id,omitempty"`
	EventID   string         `json:"event_id"`
	CreatedAt int64          `json:"created_at"` // milliseconds since epoch
	Payload   map[string]any `json:"payload,omitempty"`
}

// Normalize fills the producer timestamp and synthesizes the event identity
// when the caller did not supply them.
func (e *Envelope) Normalize(now time.Time) {
	if e.CreatedAt <= 0 {
		e.CreatedAt = now.UnixMilli()
	}
	if e.EventID == "" {
		e.EventID = SynthesizeEventID(e.EventType, e.DeviceID, e.CreatedAt)
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
}

// IsBroadcast reports whether the envelope targets every connected device.
func (e *Envelope) IsBroadcast() bool {
	return e.DeviceID == ""
}

// Created returns the producer timestamp as a time.Time.
func (e *Envelope) Created() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// PayloadString returns a payload value as a string ("" when absent).
func (e *Envelope) PayloadString(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// PayloadInt returns a numeric payload value. Query-string producers send
// numbers as strings, JSON producers as float64; both are accepted.
func (e *Envelope) PayloadInt(key string) (int, bool) {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return int(val), true
	case int:
		return val, true
	case int64:
		return int(val), true
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// SynthesizeEventID builds the fallback identity {event_type}:{device_id}:{created_at}.
func SynthesizeEventID(eventType EventType, deviceID string, createdAt int64) string {
	return fmt.Sprintf("%s:%s:%d", eventType, deviceID, createdAt)
}
