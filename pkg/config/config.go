package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pixbridge/pkg/models"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config stores all configuration of the bridge server and the kiosk agent.
// The values are read by viper from a config file or environment variable.
type Config struct {
	// Server Configurations
	ServerAddress string `mapstructure:"SERVER_ADDRESS" validate:"required"`
	TLSCertFile   string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile    string `mapstructure:"TLS_KEY_FILE"`
	LogLevel      string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Ingress pipeline
	DedupTTLSeconds          int    `mapstructure:"DEDUP_TTL_SECONDS" validate:"min=1"`
	DedupSweepSeconds        int    `mapstructure:"DEDUP_SWEEP_SECONDS" validate:"min=1"`
	EventCooldowns           string `mapstructure:"EVENT_COOLDOWNS"`
	HeartbeatIntervalSeconds int    `mapstructure:"HEARTBEAT_INTERVAL_SECONDS" validate:"min=1"`
	DeviceSendBuffer         int    `mapstructure:"DEVICE_SEND_BUFFER" validate:"min=1"`
	DeviceToken              string `mapstructure:"DEVICE_TOKEN"`
	FailureWindowSeconds     int    `mapstructure:"FAILURE_WINDOW_SECONDS" validate:"min=1"`
	FailureThreshold         int    `mapstructure:"FAILURE_THRESHOLD" validate:"min=1"`

	// Admin Control Plane
	AdminSecret          string `mapstructure:"ADMIN_SECRET"`
	DefaultMuteMinutes   int    `mapstructure:"DEFAULT_MUTE_MINUTES" validate:"min=1"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	AdminUser            string `mapstructure:"ADMIN_USER"`
	AdminHash            string `mapstructure:"ADMIN_HASH"`
	SessionDurationHours int    `mapstructure:"SESSION_DURATION_HOURS" validate:"min=1"`

	// Event journal (optional)
	JournalEnabled   bool   `mapstructure:"JOURNAL_ENABLED"`
	JournalQueueSize int    `mapstructure:"JOURNAL_QUEUE_SIZE" validate:"min=1"`
	JournalBatchSize int    `mapstructure:"JOURNAL_BATCH_SIZE" validate:"min=1"`
	DBHost           string `mapstructure:"DB_HOST"`
	DBUser           string `mapstructure:"DB_USER"`
	DBPassword       string `mapstructure:"DB_PASSWORD"`
	DBName           string `mapstructure:"DB_NAME"`
	DBPort           string `mapstructure:"DB_PORT"`

	// Kiosk agent
	BridgeServerURL       string `mapstructure:"BRIDGE_SERVER_URL"`
	DeviceID              string `mapstructure:"DEVICE_ID"`
	StateDir              string `mapstructure:"STATE_DIR"`
	CreditTTLSeconds      int    `mapstructure:"CREDIT_TTL_SECONDS" validate:"min=1"`
	WatchdogSeconds       int    `mapstructure:"WATCHDOG_SECONDS" validate:"min=1"`
	ReconnectDelaySeconds int    `mapstructure:"RECONNECT_DELAY_SECONDS" validate:"min=1"`
	LockCommand           string `mapstructure:"LOCK_COMMAND"`
	UnlockCommand         string `mapstructure:"UNLOCK_COMMAND"`
	ActionTimeoutSeconds  int    `mapstructure:"ACTION_TIMEOUT_SECONDS" validate:"min=1"`
	KioskVerbose          bool   `mapstructure:"KIOSK_VERBOSE"`
	KioskLogFile          string `mapstructure:"KIOSK_LOG_FILE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEDUP_TTL_SECONDS", 15)
	v.SetDefault("DEDUP_SWEEP_SECONDS", 30)
	v.SetDefault("EVENT_COOLDOWNS", "payment_complete=60s")
	v.SetDefault("HEARTBEAT_INTERVAL_SECONDS", 30)
	v.SetDefault("DEVICE_SEND_BUFFER", 32)
	v.SetDefault("FAILURE_WINDOW_SECONDS", 60)
	v.SetDefault("FAILURE_THRESHOLD", 5)
	v.SetDefault("DEFAULT_MUTE_MINUTES", 10)
	v.SetDefault("JWT_SECRET", "default-insecure-secret-change-me")
	v.SetDefault("ADMIN_USER", "admin")
	v.SetDefault("SESSION_DURATION_HOURS", 24)
	v.SetDefault("JOURNAL_ENABLED", false)
	v.SetDefault("JOURNAL_QUEUE_SIZE", 256)
	v.SetDefault("JOURNAL_BATCH_SIZE", 50)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USER", "pixbridge")
	v.SetDefault("DB_PASSWORD", "pixbridge")
	v.SetDefault("DB_NAME", "pixbridge")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("BRIDGE_SERVER_URL", "ws://127.0.0.1:8080/ws")
	v.SetDefault("STATE_DIR", "state")
	v.SetDefault("CREDIT_TTL_SECONDS", 1800)
	v.SetDefault("WATCHDOG_SECONDS", 5)
	v.SetDefault("RECONNECT_DELAY_SECONDS", 3)
	v.SetDefault("ACTION_TIMEOUT_SECONDS", 30)
	v.SetDefault("KIOSK_VERBOSE", false)

	// Keys without a default still need registering, otherwise Unmarshal
	// never sees their environment variables.
	for _, key := range []string{
		"TLS_CERT_FILE", "TLS_KEY_FILE", "DEVICE_TOKEN", "ADMIN_SECRET", "ADMIN_HASH",
		"DEVICE_ID", "LOCK_COMMAND", "UNLOCK_COMMAND", "KIOSK_LOG_FILE",
	} {
		v.SetDefault(key, "")
	}

	// 2. Read app.yaml if exists
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read app.yaml: %w", err)
		}
	}

	// 3. Read .env if exists (overriding app.yaml)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig()

	// 4. Environment variables have the highest priority
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the struct tags and the cooldown table syntax.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := ParseCooldowns(c.EventCooldowns); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Cooldowns returns the per-event-type cooldown table.
func (c *Config) Cooldowns() map[models.EventType]time.Duration {
	table, _ := ParseCooldowns(c.EventCooldowns)
	return table
}

// ParseCooldowns parses "payment_complete=60s,processing_start=2s".
// A bare number is read as seconds.
func ParseCooldowns(raw string) (map[models.EventType]time.Duration, error) {
	table := make(map[models.EventType]time.Duration)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("cooldown %q: expected type=duration", part)
		}
		eventType, known := models.ParseEventType(strings.TrimSpace(name))
		if !known {
			return nil, fmt.Errorf("cooldown %q: unknown event type", part)
		}
		value = strings.TrimSpace(value)
		d, err := time.ParseDuration(value)
		if err != nil {
			d, err = time.ParseDuration(value + "s")
			if err != nil {
				return nil, fmt.Errorf("cooldown %q: %w", part, err)
			}
		}
		if d < 0 {
			return nil, fmt.Errorf("cooldown %q: negative duration", part)
		}
		table[eventType] = d
	}
	return table, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// DedupTTL is the duplicate/staleness window.
func (c *Config) DedupTTL() time.Duration { return seconds(c.DedupTTLSeconds) }

// DedupSweep is how often expired dedup entries are dropped.
func (c *Config) DedupSweep() time.Duration { return seconds(c.DedupSweepSeconds) }

// HeartbeatInterval is the ping period for device channels.
func (c *Config) HeartbeatInterval() time.Duration { return seconds(c.HeartbeatIntervalSeconds) }

// FailureWindow is the span within which refused deliveries accumulate.
func (c *Config) FailureWindow() time.Duration { return seconds(c.FailureWindowSeconds) }

// DefaultMute is the mute duration used when an admin omits one.
func (c *Config) DefaultMute() time.Duration { return time.Duration(c.DefaultMuteMinutes) * time.Minute }

// CreditTTL is how long an unconsumed credit stays usable.
func (c *Config) CreditTTL() time.Duration { return seconds(c.CreditTTLSeconds) }

// WatchdogDelay is the stable-startup window for the capture process.
func (c *Config) WatchdogDelay() time.Duration { return seconds(c.WatchdogSeconds) }

// ReconnectDelay is the fixed retry delay of the kiosk channel.
func (c *Config) ReconnectDelay() time.Duration { return seconds(c.ReconnectDelaySeconds) }

// ActionTimeout bounds a single lock/unlock command.
func (c *Config) ActionTimeout() time.Duration { return seconds(c.ActionTimeoutSeconds) }
