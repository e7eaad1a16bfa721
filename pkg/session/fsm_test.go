package session

import (
	"testing"
	"time"

	"pixbridge/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := Start("sess_1", at)

	assert.Equal(t, "sess_1", s.SessionID)
	assert.Equal(t, at, s.StartedAt)
	assert.Equal(t, models.StateStarted, s.State)
	assert.False(t, s.Progressed)
	assert.False(t, s.InvalidSequence)
	assert.True(t, s.Active())
}

func TestHappyPath(t *testing.T) {
	s := Start("sess_1", time.Now())
	steps := []struct {
		event     models.EventType
		want      models.SessionState
		milestone bool
	}{
		{models.EventCountdownStart, models.StateCountdown, false},
		{models.EventCountdown, models.StateCountdown, false},
		{models.EventCaptureStart, models.StateCapturing, true},
		{models.EventFileDownload, models.StateDownloading, false},
		{models.EventFileDownload, models.StateDownloading, false},
		{models.EventProcessingStart, models.StateProcessing, true},
		{models.EventSharingScreen, models.StateSharing, false},
		{models.EventPrinting, models.StatePrinting, false},
		{models.EventSessionEnd, models.StateEnded, false},
	}
	for _, step := range steps {
		tr := Apply(s, step.event)
		require.True(t, tr.Advanced, "event %s", step.event)
		assert.Equal(t, step.want, s.State, "event %s", step.event)
		assert.Equal(t, step.milestone, tr.Milestone, "event %s", step.event)
	}
	assert.True(t, s.Progressed)
	assert.False(t, s.InvalidSequence)
	assert.False(t, s.Active())
}

func TestIllegalEventDoesNotAdvance(t *testing.T) {
	s := Start("sess_1", time.Now())

	tr := Apply(s, models.EventPrinting)
	assert.False(t, tr.Advanced)
	assert.Equal(t, models.StateStarted, s.State)
	assert.True(t, s.InvalidSequence)
	assert.False(t, s.Progressed)
}

func TestOutOfOrderMilestoneDoesNotProgress(t *testing.T) {
	s := Start("sess_1", time.Now())

	// processing_start straight from started is not in the table.
	tr := Apply(s, models.EventProcessingStart)
	assert.False(t, tr.Advanced)
	assert.False(t, tr.Milestone)
	assert.False(t, s.Progressed)
}

func TestEndedIsTerminal(t *testing.T) {
	s := Start("sess_1", time.Now())
	require.True(t, Apply(s, models.EventSessionEnd).Ended)

	tr := Apply(s, models.EventSessionEnd)
	assert.False(t, tr.Advanced)
	assert.False(t, tr.Ended)
	assert.Equal(t, models.StateEnded, s.State)

	assert.False(t, Apply(s, models.EventCaptureStart).Advanced)
}

func TestPrintingOnlyAcceptsEnd(t *testing.T) {
	s := &models.Session{SessionID: "s", State: models.StatePrinting, Progressed: true}

	assert.False(t, Apply(s, models.EventPrinting).Advanced)
	assert.True(t, s.InvalidSequence)
	assert.True(t, Apply(s, models.EventSessionEnd).Ended)
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(models.StateDownloading, models.EventFileUpload))
	assert.False(t, Allowed(models.StateSharing, models.EventSharingScreen))
	assert.False(t, Allowed(models.StateEnded, models.EventSessionEnd))
	assert.False(t, Allowed(models.StateStarted, models.EventPaymentComplete))
}

func TestApplyNil(t *testing.T) {
	assert.Equal(t, Transition{}, Apply(nil, models.EventCaptureStart))
}
