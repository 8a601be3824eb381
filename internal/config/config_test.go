package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MaxMessageLen != 2000 {
		t.Fatalf("MaxMessageLen = %d, want 2000", cfg.MaxMessageLen)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("TokenTTL = %v, want 24h", cfg.TokenTTL)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("CHAT_MAX_MESSAGE_LEN", "500")
	t.Setenv("JWT_TOKEN_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.MaxMessageLen != 500 {
		t.Fatalf("MaxMessageLen = %d, want 500", cfg.MaxMessageLen)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("TokenTTL = %v, want 2h", cfg.TokenTTL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CHAT_MAX_MESSAGE_LEN", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error for non-positive message length")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"JWT_SECRET",
		"JWT_TOKEN_TTL",
		"CHAT_MAX_MESSAGE_LEN",
		"PUSH_QUEUE_SIZE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
