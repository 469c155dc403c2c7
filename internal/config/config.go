// Package config builds the gateway's configuration from environment
// variables. Per the system's redesign notes, configuration is an
// explicit struct populated at startup, not a module-level global; the
// set of recognized variables is enumerated below and unknown ones are
// never silently accepted.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-derived setting the gateway reads at
// startup. Nothing here is re-read after the process starts.
type Config struct {
	ListenAddr string // HTTP listen address, e.g. ":8080"

	CookieSecure bool
	DBPath       string // SQLite file path, or ":memory:"

	PublicSeedDuration  time.Duration
	PrivateSeedDuration time.Duration
	AutoPauseSeeding    bool

	MaintenanceInterval time.Duration
	StatusRetentionDays int

	StreamIdleTimeout time.Duration
	StreamScratchDir  string
	FFmpegPath        string

	WebhookSigningSecret string

	BackendCallDeadline time.Duration
}

// env variable names, enumerated so unknown ones are never consulted.
const (
	envListenAddr          = "LISTEN_ADDR"
	envCookieSecure        = "COOKIE_SECURE"
	envDBPath              = "SQLITE_DB_PATH"
	envPublicSeedDuration  = "PUBLIC_SEED_DURATION"
	envPrivateSeedDuration = "PRIVATE_SEED_DURATION"
	envAutoPauseSeeding    = "AUTO_PAUSE_SEEDING"
	envMaintenanceInterval = "MAINTENANCE_INTERVAL_SECONDS"
	envStatusRetentionDays = "STATUS_RETENTION_DAYS"
	envStreamIdleSeconds   = "STREAM_IDLE_SECONDS"
	envStreamScratchDir    = "STREAM_SCRATCH_DIR"
	envFFmpegPath          = "FFMPEG_PATH"
	envWebhookSecret       = "WEBHOOK_SIGNING_SECRET"
	envBackendCallDeadline = "BACKEND_CALL_DEADLINE_SECONDS"
)

// defaults mirror the values named in the spec.
const (
	defaultPublicSeedDuration  = 24 * time.Hour
	defaultPrivateSeedDuration = 7 * 24 * time.Hour
	defaultMaintenanceInterval = 300 * time.Second
	defaultStatusRetentionDays = 30
	defaultStreamIdleSeconds   = 600 * time.Second
	defaultBackendCallDeadline = 10 * time.Second
)

// FromEnv builds a Config from the process environment, applying the
// spec's documented defaults for anything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:          getString(envListenAddr, ":8080"),
		CookieSecure:        getBool(envCookieSecure, true),
		DBPath:              getString(envDBPath, "gateway.db"),
		PublicSeedDuration:  defaultPublicSeedDuration,
		PrivateSeedDuration: defaultPrivateSeedDuration,
		AutoPauseSeeding:    getBool(envAutoPauseSeeding, true),
		MaintenanceInterval: defaultMaintenanceInterval,
		StatusRetentionDays: defaultStatusRetentionDays,
		StreamIdleTimeout:   defaultStreamIdleSeconds,
		StreamScratchDir:    getString(envStreamScratchDir, os.TempDir()),
		FFmpegPath:          getString(envFFmpegPath, "ffmpeg"),
		WebhookSigningSecret: getString(envWebhookSecret, ""),
		BackendCallDeadline: defaultBackendCallDeadline,
	}

	var err error
	if cfg.PublicSeedDuration, err = getDurationSeconds(envPublicSeedDuration, defaultPublicSeedDuration); err != nil {
		return nil, err
	}
	if cfg.PrivateSeedDuration, err = getDurationSeconds(envPrivateSeedDuration, defaultPrivateSeedDuration); err != nil {
		return nil, err
	}
	if cfg.MaintenanceInterval, err = getDurationSeconds(envMaintenanceInterval, defaultMaintenanceInterval); err != nil {
		return nil, err
	}
	if cfg.StatusRetentionDays, err = getInt(envStatusRetentionDays, defaultStatusRetentionDays); err != nil {
		return nil, err
	}
	if cfg.StreamIdleTimeout, err = getDurationSeconds(envStreamIdleSeconds, defaultStreamIdleSeconds); err != nil {
		return nil, err
	}
	if cfg.BackendCallDeadline, err = getDurationSeconds(envBackendCallDeadline, defaultBackendCallDeadline); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return n, nil
}

func getDurationSeconds(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return time.Duration(seconds) * time.Second, nil
}
