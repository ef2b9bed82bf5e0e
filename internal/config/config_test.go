package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proctor/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: memory\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cooldown() != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cfg.Cooldown())
	}
	if cfg.Detection.CumulativeThresholds.Critical != 86 || cfg.Detection.SeverityThresholds.Orange != 36 {
		t.Errorf("threshold defaults not applied: %+v %+v", cfg.Detection.CumulativeThresholds, cfg.Detection.SeverityThresholds)
	}
	if cfg.Headcount.ApplyCooldown == nil || !*cfg.Headcount.ApplyCooldown {
		t.Error("headcount.apply_cooldown should default to true")
	}
	if cfg.Notifications.Telegram.MinSeverity != models.SeverityOrange {
		t.Errorf("min severity = %s, want ORANGE", cfg.Notifications.Telegram.MinSeverity)
	}
	if cfg.Server.Port != ":8080" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("unexpected server/metrics defaults: %q %q", cfg.Server.Port, cfg.Metrics.Path)
	}
	if cfg.Database.MaxOpenConns != 20 || cfg.Database.MaxIdleConns != 10 {
		t.Errorf("pool defaults = %d/%d, want 20/10", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("PROCTOR_TEST_SECRET", "s3cret")
	path := writeConfig(t, `
database:
  driver: memory
auth:
  enabled: true
  jwt_secret: "${PROCTOR_TEST_SECRET}"
headcount:
  apply_cooldown: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt secret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if *cfg.Headcount.ApplyCooldown {
		t.Error("explicit apply_cooldown: false was overridden")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"postgres without url", "database:\n  driver: postgres\n", "database.url"},
		{"unknown driver", "database:\n  driver: mongo\n", "unknown database.driver"},
		{"auth without secret", "database:\n  driver: memory\nauth:\n  enabled: true\n", "jwt_secret"},
		{"descending thresholds", "database:\n  driver: memory\ndetection:\n  cumulative_thresholds:\n    watch: 50\n    suspicious: 40\n    critical: 90\n", "cumulative thresholds"},
		{"telegram without token", "database:\n  driver: memory\nnotifications:\n  telegram:\n    enabled: true\n", "bot_token"},
		{"kafka without topic", "database:\n  driver: memory\nkafka:\n  enabled: true\n  brokers: [\"b:9092\"]\n", "kafka.topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv = %q, want %q", got, DefaultPath)
	}
	t.Setenv("CONFIG_PATH", "/etc/proctor.yml")
	if got := PathFromEnv(); got != "/etc/proctor.yml" {
		t.Errorf("PathFromEnv = %q", got)
	}
}
