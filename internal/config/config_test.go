package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv().
	tests := map[string]struct {
		envVars map[string]string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		"all required vars set": {
			envVars: map[string]string{
				"GATEWAY_BASE_URL": "https://api.example.com/v1",
				"TERMINAL_ID":      "till-7",
				"TERMINAL_SECRET":  "s3cret",
			},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "7380", cfg.Port)
				require.Equal(t, "possync.db", cfg.Store.Path)
				require.Equal(t, "https://api.example.com/v1", cfg.Gateway.BaseURL)
				require.Equal(t, "till-7", cfg.Gateway.TerminalID)
				require.Equal(t, 15*time.Second, cfg.Worker.SyncInterval)
				require.Equal(t, 5*time.Second, cfg.Worker.ProbeInterval)
				require.Equal(t, time.Hour, cfg.Worker.RetentionInterval)
				require.Equal(t, 720*time.Hour, cfg.Worker.RetentionMaxAge)
				require.Equal(t, "usd", cfg.Payment.Currency)
				require.Equal(t, 5, cfg.Payment.MaxRetries)
			},
		},
		"custom values": {
			envVars: map[string]string{
				"GATEWAY_BASE_URL":    "https://api.example.com/v1",
				"TERMINAL_ID":         "till-7",
				"TERMINAL_SECRET":     "s3cret",
				"PORT":                "9000",
				"STORE_PATH":          "/var/lib/possync/till.db",
				"SYNC_INTERVAL":       "30s",
				"PAYMENT_CURRENCY":    "gbp",
				"PAYMENT_MAX_RETRIES": "3",
			},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "9000", cfg.Port)
				require.Equal(t, "/var/lib/possync/till.db", cfg.Store.Path)
				require.Equal(t, 30*time.Second, cfg.Worker.SyncInterval)
				require.Equal(t, "gbp", cfg.Payment.Currency)
				require.Equal(t, 3, cfg.Payment.MaxRetries)
			},
		},
		"missing gateway base url": {
			envVars: map[string]string{
				"TERMINAL_ID":     "till-7",
				"TERMINAL_SECRET": "s3cret",
			},
			wantErr: "GATEWAY_BASE_URL",
		},
		"missing terminal id": {
			envVars: map[string]string{
				"GATEWAY_BASE_URL": "https://api.example.com/v1",
				"TERMINAL_SECRET":  "s3cret",
			},
			wantErr: "TERMINAL_ID",
		},
		"missing terminal secret": {
			envVars: map[string]string{
				"GATEWAY_BASE_URL": "https://api.example.com/v1",
				"TERMINAL_ID":      "till-7",
			},
			wantErr: "TERMINAL_SECRET",
		},
		"invalid sync interval": {
			envVars: map[string]string{
				"GATEWAY_BASE_URL": "https://api.example.com/v1",
				"TERMINAL_ID":      "till-7",
				"TERMINAL_SECRET":  "s3cret",
				"SYNC_INTERVAL":    "often",
			},
			wantErr: "SYNC_INTERVAL",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}
