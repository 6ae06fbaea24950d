package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "empty server address",
			mutate: func(c *Config) { c.Server.Address = "" },
		},
		{
			name:   "zero ping interval",
			mutate: func(c *Config) { c.Signal.PingInterval = 0 },
		},
		{
			name:   "zero room capacity",
			mutate: func(c *Config) { c.Rooms.Capacity = 0 },
		},
		{
			name:   "zero inactivity timeout",
			mutate: func(c *Config) { c.Rooms.InactivityTimeout = 0 },
		},
		{
			name:   "unknown default tier",
			mutate: func(c *Config) { c.Transfer.DefaultTier = "ultra" },
		},
		{
			name:   "negative max retries",
			mutate: func(c *Config) { c.Transfer.MaxRetries = -1 },
		},
		{
			name:   "redis enabled without address",
			mutate: func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" },
		},
		{
			name: "rate limiting enabled with zero rps",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name:   "tracing sample rate out of range",
			mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 1.5 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if cfg.Rooms.Capacity != 10 {
		t.Errorf("expected default room capacity 10, got %d", cfg.Rooms.Capacity)
	}
	if cfg.Rooms.InactivityTimeout != 30*time.Minute {
		t.Errorf("expected default inactivity timeout 30m, got %v", cfg.Rooms.InactivityTimeout)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("rooms:\n  capacity: 4\n  inactivity_timeout: 10m\n  sweep_interval: 30s\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rooms.Capacity != 4 {
		t.Errorf("expected capacity 4, got %d", cfg.Rooms.Capacity)
	}
	if cfg.Rooms.InactivityTimeout != 10*time.Minute {
		t.Errorf("expected inactivity timeout 10m, got %v", cfg.Rooms.InactivityTimeout)
	}
	// untouched sections keep defaults
	if cfg.Signal.PingInterval != 30*time.Second {
		t.Errorf("expected default ping interval, got %v", cfg.Signal.PingInterval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SYNCROOM_SIGNAL_ADDRESS", ":9999")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Signal.Address != ":9999" {
		t.Errorf("expected env override for signal address, got %s", cfg.Signal.Address)
	}
}
