package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent configuration loaded from environment variables.
// It is the single source of truth for runtime parameters.
type Config struct {
	Port           string
	Env            string
	TerminalSecret string

	Store   StoreConfig
	Gateway GatewayConfig
	Worker  WorkerConfig
	Payment PaymentConfig
}

// StoreConfig contains the local database parameters.
type StoreConfig struct {
	Path string
}

// GatewayConfig contains backend API parameters.
type GatewayConfig struct {
	BaseURL    string
	TerminalID string
}

// WorkerConfig contains interval configuration for background workers.
type WorkerConfig struct {
	SyncInterval      time.Duration
	ProbeInterval     time.Duration
	RetentionInterval time.Duration
	RetentionMaxAge   time.Duration
}

// PaymentConfig tunes the buffered payment retry loop.
type PaymentConfig struct {
	Currency   string
	MaxRetries int
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that
	// deployments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "7380")
	cfg.Env = getEnv("ENV", "development")
	cfg.TerminalSecret = getEnv("TERMINAL_SECRET", "")

	// Local store
	cfg.Store = StoreConfig{
		Path: getEnv("STORE_PATH", "possync.db"),
	}

	// Backend gateway
	cfg.Gateway = GatewayConfig{
		BaseURL:    getEnv("GATEWAY_BASE_URL", ""),
		TerminalID: getEnv("TERMINAL_ID", ""),
	}

	// Payments
	cfg.Payment = PaymentConfig{
		Currency:   getEnv("PAYMENT_CURRENCY", "usd"),
		MaxRetries: getEnvInt("PAYMENT_MAX_RETRIES", 5),
	}

	// Workers (durations)
	var err error
	if cfg.Worker.SyncInterval, err = parseDurationEnv("SYNC_INTERVAL", "15s"); err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	if cfg.Worker.ProbeInterval, err = parseDurationEnv("PROBE_INTERVAL", "5s"); err != nil {
		return nil, fmt.Errorf("invalid PROBE_INTERVAL: %w", err)
	}
	if cfg.Worker.RetentionInterval, err = parseDurationEnv("RETENTION_INTERVAL", "1h"); err != nil {
		return nil, fmt.Errorf("invalid RETENTION_INTERVAL: %w", err)
	}
	if cfg.Worker.RetentionMaxAge, err = parseDurationEnv("RETENTION_MAX_AGE", "720h"); err != nil {
		return nil, fmt.Errorf("invalid RETENTION_MAX_AGE: %w", err)
	}

	if cfg.Gateway.BaseURL == "" {
		return nil, errors.New("gateway configuration incomplete: ensure GATEWAY_BASE_URL is set")
	}
	if cfg.Gateway.TerminalID == "" {
		return nil, errors.New("TERMINAL_ID must be set to identify this terminal")
	}
	if cfg.TerminalSecret == "" {
		return nil, errors.New("TERMINAL_SECRET must be set for authentication")
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be > 0")
	}
	return d, nil
}
