// Package session holds the strict booth session state machine.
package session

import (
	"time"

	"pixbridge/pkg/models"
)

// allowed maps a state to the events it accepts and the state each one leads to.
var allowed = map[models.SessionState]map[models.EventType]models.SessionState{
	models.StateStarted: {
		models.EventCountdownStart: models.StateCountdown,
		models.EventCaptureStart:   models.StateCapturing,
		models.EventSessionEnd:     models.StateEnded,
	},
	models.StateCountdown: {
		models.EventCountdown:    models.StateCountdown,
		models.EventCaptureStart: models.StateCapturing,
		models.EventSessionEnd:   models.StateEnded,
	},
	models.StateCapturing: {
		models.EventFileDownload:    models.StateDownloading,
		models.EventProcessingStart: models.StateProcessing,
		models.EventSessionEnd:      models.StateEnded,
	},
	models.StateDownloading: {
		models.EventFileDownload:    models.StateDownloading,
		models.EventProcessingStart: models.StateProcessing,
		models.EventSharingScreen:   models.StateSharing,
		models.EventPrinting:        models.StatePrinting,
		models.EventFileUpload:      models.StateUploading,
		models.EventSessionEnd:      models.StateEnded,
	},
	models.StateProcessing: {
		models.EventSharingScreen: models.StateSharing,
		models.EventPrinting:      models.StatePrinting,
		models.EventFileUpload:    models.StateUploading,
		models.EventSessionEnd:    models.StateEnded,
	},
	models.StateSharing: {
		models.EventPrinting:   models.StatePrinting,
		models.EventFileUpload: models.StateUploading,
		models.EventSessionEnd: models.StateEnded,
	},
	models.StatePrinting: {
		models.EventSessionEnd: models.StateEnded,
	},
	models.StateUploading: {
		models.EventSessionEnd: models.StateEnded,
	},
	models.StateEnded: {},
}

// Transition describes the effect of one event on a session.
type Transition struct {
	From      models.SessionState
	To        models.SessionState
	Advanced  bool
	Milestone bool
	Ended     bool
}

// Start creates a fresh session in the started state.
func Start(id string, at time.Time) *models.Session {
	return &models.Session{
		SessionID: id,
		StartedAt: at,
		State:     models.StateStarted,
	}
}

// Allowed reports whether eventType is a legal next event in state.
func Allowed(state models.SessionState, eventType models.EventType) bool {
	_, ok := allowed[state][eventType]
	return ok
}

// Apply feeds eventType to s. Illegal events flag the session and leave the
// state unchanged. session_start is not handled here; use Start.
func Apply(s *models.Session, eventType models.EventType) Transition {
	if s == nil {
		return Transition{}
	}
	tr := Transition{From: s.State, To: s.State}

	next, ok := allowed[s.State][eventType]
	if !ok {
		s.InvalidSequence = true
		return tr
	}

	tr.To = next
	tr.Advanced = true
	tr.Milestone = isMilestone(s.State, eventType)
	tr.Ended = next == models.StateEnded

	s.State = next
	if tr.Milestone {
		s.Progressed = true
	}
	return tr
}

func isMilestone(from models.SessionState, eventType models.EventType) bool {
	switch eventType {
	case models.EventCaptureStart:
		return from == models.StateStarted || from == models.StateCountdown
	case models.EventProcessingStart:
		return from == models.StateCapturing || from == models.StateDownloading
	}
	return false
}
