package models

import "time"

// SessionState is a position in the booth session lifecycle.
type SessionState string

const (
	StateStarted     SessionState = "started"
	StateCountdown   SessionState = "countdown"
	StateCapturing   SessionState = "capturing"
	StateDownloading SessionState = "downloading"
	StateProcessing  SessionState = "processing"
	StateSharing     SessionState = "sharing"
	StatePrinting    SessionState = "printing"
	StateUploading   SessionState = "uploading"
	StateEnded       SessionState = "ended"
)

// Session is the single booth session a kiosk tracks.
type Session struct {
	SessionID       string       `json:"session_id"`
	StartedAt       time.Time    `json:"started_at"`
	State           SessionState `json:"fsm_state"`
	Progressed      bool         `json:"progressed"`
	InvalidSequence bool         `json:"invalid_sequence"`
}

// Active reports whether the session can still receive lifecycle events.
func (s *Session) Active() bool {
	return s != nil && s.State != StateEnded
}

// Credit is the single-use authorization produced by a payment.
// An empty SessionID means the credit is not yet bound and will be claimed by
// the next session that starts.
type Credit struct {
	Available      bool      `json:"available"`
	SessionID      string    `json:"session_id,omitempty"`
	GrantedAt      time.Time `json:"granted_at,omitempty"`
	Consumed       bool      `json:"consumed"`
	PendingSession bool      `json:"pending_session"`
}

// Usable reports whether the credit can still pay for a session.
func (c Credit) Usable() bool {
	return c.Available && !c.Consumed
}

// ExpiredAt reports whether a usable credit is older than ttl at now.
func (c Credit) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || c.GrantedAt.IsZero() {
		return false
	}
	return now.Sub(c.GrantedAt) > ttl
}

// CaptureProcess records the downstream capture application start.
type CaptureProcess struct {
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// DeviceState is the persisted kiosk document.
type DeviceState struct {
	ActiveSession *Session       `json:"active_session"`
	Credit        Credit         `json:"credit"`
	DSLR          CaptureProcess `json:"dslr"`
	UpdatedAt     time.Time      `json:"updated_at,omitempty"`
}

// DefaultDeviceState is the safe "no credit, no session" document.
func DefaultDeviceState() DeviceState {
	return DeviceState{}
}

// ActiveSessionID returns the id of the active session, or "" when none is active.
func (s *DeviceState) ActiveSessionID() string {
	if !s.ActiveSession.Active() {
		return ""
	}
	return s.ActiveSession.SessionID
}
