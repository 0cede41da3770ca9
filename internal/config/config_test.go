package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

// chdir is t.Chdir for toolchains before Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("Chdir back: %v", err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir()) // 确保不读到仓库里的 config.yaml

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("server.port default = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Database.RecordRetentionDays != 90 {
		t.Errorf("record_retention_days default = %d, want 90", cfg.Database.RecordRetentionDays)
	}
	if cfg.Policy.AbsoluteMaxSpendingBps != 2000 {
		t.Errorf("absolute_max_spending_bps default = %d, want 2000", cfg.Policy.AbsoluteMaxSpendingBps)
	}
	if cfg.Policy.ValuationMaxAgeSeconds != 3600 {
		t.Errorf("valuation_max_age_seconds default = %d, want 3600", cfg.Policy.ValuationMaxAgeSeconds)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	viper.Reset()
	chdir(t, t.TempDir())
	t.Setenv("VAULTGATE_DATABASE_RECORD_RETENTION_DAYS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.RecordRetentionDays != 7 {
		t.Errorf("env override not applied, got %d", cfg.Database.RecordRetentionDays)
	}
}
