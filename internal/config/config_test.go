package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.PublicSeedDuration != 24*time.Hour {
		t.Errorf("PublicSeedDuration = %v, want 24h", cfg.PublicSeedDuration)
	}
	if cfg.PrivateSeedDuration != 7*24*time.Hour {
		t.Errorf("PrivateSeedDuration = %v, want 7d", cfg.PrivateSeedDuration)
	}
	if cfg.MaintenanceInterval != 300*time.Second {
		t.Errorf("MaintenanceInterval = %v, want 300s", cfg.MaintenanceInterval)
	}
	if cfg.StatusRetentionDays != 30 {
		t.Errorf("StatusRetentionDays = %d, want 30", cfg.StatusRetentionDays)
	}
	if !cfg.AutoPauseSeeding {
		t.Error("AutoPauseSeeding should default true")
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should default true")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv(envPublicSeedDuration, "3600")
	t.Setenv(envCookieSecure, "false")
	t.Setenv(envStatusRetentionDays, "7")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.PublicSeedDuration != time.Hour {
		t.Errorf("PublicSeedDuration = %v, want 1h", cfg.PublicSeedDuration)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false")
	}
	if cfg.StatusRetentionDays != 7 {
		t.Errorf("StatusRetentionDays = %d, want 7", cfg.StatusRetentionDays)
	}
}

func TestFromEnv_InvalidValue(t *testing.T) {
	t.Setenv(envStatusRetentionDays, "not-a-number")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for invalid STATUS_RETENTION_DAYS")
	}
}
