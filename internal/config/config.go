// Package config provides configuration loading for the alert engine.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all klaxond configuration.
type Config struct {
	// Listen address (default ":8080")
	ListenAddr string `json:"listen_addr"`
	// Data directory for SQLite databases (default "/var/lib/klaxon")
	DataDir string `json:"data_dir"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`

	// Interval between auto-close scanner passes (default 5m)
	ScanInterval Duration `json:"scan_interval"`

	// Days a new alert stays eligible before time-based auto-close (default 7)
	ExpirationDays int `json:"expiration_days"`

	// TTL of the active-rule snapshot cache (default 5m)
	RuleCacheTTL Duration `json:"rule_cache_ttl"`

	// Path to a YAML file of default rules loaded at startup (optional)
	DefaultRulesPath string `json:"default_rules_path,omitempty"`

	// OTLP gRPC endpoint for traces; empty disables tracing
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
}

// Duration wraps time.Duration so config files can use strings like "5m".
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parse duration: %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		DataDir:        "/var/lib/klaxon",
		LogLevel:       "info",
		ScanInterval:   Duration(5 * time.Minute),
		ExpirationDays: 7,
		RuleCacheTTL:   Duration(5 * time.Minute),
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	// Load from file if it exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("KLAXON_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("KLAXON_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KLAXON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KLAXON_SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ScanInterval = Duration(d)
		}
	}
	if v := os.Getenv("KLAXON_EXPIRATION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExpirationDays = n
		}
	}
	if v := os.Getenv("KLAXON_RULE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RuleCacheTTL = Duration(d)
		}
	}
	if v := os.Getenv("KLAXON_DEFAULT_RULES"); v != "" {
		cfg.DefaultRulesPath = v
	}
	if v := os.Getenv("KLAXON_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// Expiration returns the alert expiry window as a duration.
func (c Config) Expiration() time.Duration {
	days := c.ExpirationDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}
