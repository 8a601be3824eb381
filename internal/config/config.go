package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the marketplace service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	JWTSecret string
	TokenTTL  time.Duration

	// MaxMessageLen bounds chat message content after trimming.
	MaxMessageLen int

	// PushQueueSize is the per-connection outbound buffer; a full queue drops
	// the push rather than blocking the sender.
	PushQueueSize int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "tirito"),
		AllowAnyOrigin:   false,
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		JWTSecret:        envOrDefault("JWT_SECRET", "supersecretkey"),
		TokenTTL:         24 * time.Hour,
		MaxMessageLen:    2000,
		PushQueueSize:    64,
		ShutdownTimeout:  15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("JWT_TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageLen, err = intFromEnv("CHAT_MAX_MESSAGE_LEN", cfg.MaxMessageLen)
	if err != nil {
		return Config{}, err
	}
	cfg.PushQueueSize, err = intFromEnv("PUSH_QUEUE_SIZE", cfg.PushQueueSize)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxMessageLen <= 0 {
		return Config{}, fmt.Errorf("CHAT_MAX_MESSAGE_LEN must be positive")
	}
	if cfg.PushQueueSize <= 0 {
		return Config{}, fmt.Errorf("PUSH_QUEUE_SIZE must be positive")
	}
	if cfg.TokenTTL < time.Minute {
		return Config{}, fmt.Errorf("JWT_TOKEN_TTL must be at least 1m")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
