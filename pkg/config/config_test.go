package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pixbridge/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	conf, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.ServerAddress)
	assert.Equal(t, 15*time.Second, conf.DedupTTL())
	assert.Equal(t, 30*time.Second, conf.HeartbeatInterval())
	assert.Equal(t, 10*time.Minute, conf.DefaultMute())
	assert.Equal(t, 1800*time.Second, conf.CreditTTL())
	assert.Equal(t, 5*time.Second, conf.WatchdogDelay())
	assert.Equal(t, 3*time.Second, conf.ReconnectDelay())
	assert.Equal(t, time.Minute, conf.FailureWindow())
	assert.Equal(t, 5, conf.FailureThreshold)
	assert.False(t, conf.JournalEnabled)
	assert.Equal(t, map[models.EventType]time.Duration{
		models.EventPaymentComplete: 60 * time.Second,
	}, conf.Cooldowns())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "DEDUP_TTL_SECONDS: 20\nADMIN_SECRET: from-file\nEVENT_COOLDOWNS: payment_complete=30s,processing_start=2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(yaml), 0o600))

	t.Setenv("ADMIN_SECRET", "from-env")
	t.Setenv("DEVICE_ID", "kiosk-7")

	conf, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, conf.DedupTTL())
	assert.Equal(t, "from-env", conf.AdminSecret)
	assert.Equal(t, "kiosk-7", conf.DeviceID)
	assert.Equal(t, 2*time.Second, conf.Cooldowns()[models.EventProcessingStart])
	assert.Equal(t, 30*time.Second, conf.Cooldowns()[models.EventPaymentComplete])
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestParseCooldowns(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[models.EventType]time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: map[models.EventType]time.Duration{}},
		{name: "duration", raw: "payment_complete=1m", want: map[models.EventType]time.Duration{models.EventPaymentComplete: time.Minute}},
		{name: "bare seconds", raw: " printing = 5 ", want: map[models.EventType]time.Duration{models.EventPrinting: 5 * time.Second}},
		{name: "unknown type", raw: "selfie=5s", wantErr: true},
		{name: "missing value", raw: "printing", wantErr: true},
		{name: "negative", raw: "printing=-1s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCooldowns(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
