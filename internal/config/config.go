package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RetryConfig holds sync retry settings.
type RetryConfig struct {
	MaxRetries  *int   `json:"max_retries,omitempty"`  // nil = default 5
	BackoffBase string `json:"backoff_base,omitempty"` // duration string, default "500ms"
	BackoffCap  string `json:"backoff_cap,omitempty"`  // duration string, default "30s"
}

// AutoDrainConfig holds background drain settings.
type AutoDrainConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default true
	Interval string `json:"interval,omitempty"` // duration string, default "5m"
	Debounce string `json:"debounce,omitempty"` // duration string, default "3s"
}

// BackendConfig holds backend connection settings.
type BackendConfig struct {
	URL           string `json:"url"`
	APIKey        string `json:"api_key,omitempty"`
	ProbeInterval string `json:"probe_interval,omitempty"` // duration string, default "15s"
}

// Config is the global syncq config stored at ~/.config/syncq/config.json.
type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Retry     RetryConfig     `json:"retry"`
	AutoDrain AutoDrainConfig `json:"auto_drain"`
	BatchSize *int            `json:"batch_size,omitempty"` // nil = default 50
}

const defaultBackendURL = "http://localhost:8080"

// ConfigDir returns ~/.config/syncq, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "syncq")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the global config from ~/.config/syncq/config.json.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to ~/.config/syncq/config.json.
func Save(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// GetBackendURL returns the backend base URL.
// Priority: SYNCQ_URL env > config.json > default.
func GetBackendURL() string {
	if v := os.Getenv("SYNCQ_URL"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil && cfg.Backend.URL != "" {
		return cfg.Backend.URL
	}
	return defaultBackendURL
}

// GetAPIKey returns the backend API key.
// Priority: SYNCQ_API_KEY env > config.json.
func GetAPIKey() string {
	if v := os.Getenv("SYNCQ_API_KEY"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil {
		return cfg.Backend.APIKey
	}
	return ""
}

// GetMaxRetries returns the attempt ceiling before a mutation is parked.
// Priority: SYNCQ_MAX_RETRIES env > config.json retry.max_retries > 5.
func GetMaxRetries() int {
	if v := os.Getenv("SYNCQ_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := Load()
	if err == nil && cfg.Retry.MaxRetries != nil && *cfg.Retry.MaxRetries > 0 {
		return *cfg.Retry.MaxRetries
	}
	return 5
}

// GetBatchSize returns how many pending mutations a drain pulls per fetch.
// Priority: SYNCQ_BATCH_SIZE env > config.json batch_size > 50.
func GetBatchSize() int {
	if v := os.Getenv("SYNCQ_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := Load()
	if err == nil && cfg.BatchSize != nil && *cfg.BatchSize > 0 {
		return *cfg.BatchSize
	}
	return 50
}

// GetBackoffBase returns the delay after the first retryable failure.
// Priority: SYNCQ_BACKOFF_BASE env > config.json retry.backoff_base > 500ms.
func GetBackoffBase() time.Duration {
	return durationSetting("SYNCQ_BACKOFF_BASE", func(c *Config) string {
		return c.Retry.BackoffBase
	}, 500*time.Millisecond)
}

// GetBackoffCap returns the retry delay ceiling.
// Priority: SYNCQ_BACKOFF_CAP env > config.json retry.backoff_cap > 30s.
func GetBackoffCap() time.Duration {
	return durationSetting("SYNCQ_BACKOFF_CAP", func(c *Config) string {
		return c.Retry.BackoffCap
	}, 30*time.Second)
}

// GetProbeInterval returns the connectivity probe period.
// Priority: SYNCQ_PROBE_INTERVAL env > config.json backend.probe_interval > 15s.
func GetProbeInterval() time.Duration {
	return durationSetting("SYNCQ_PROBE_INTERVAL", func(c *Config) string {
		return c.Backend.ProbeInterval
	}, 15*time.Second)
}

// GetAutoDrainEnabled returns whether the background drain loop runs.
// Priority: SYNCQ_AUTO_DRAIN env > config.json auto_drain.enabled > true.
func GetAutoDrainEnabled() bool {
	if v := parseBoolEnv("SYNCQ_AUTO_DRAIN"); v != nil {
		return *v
	}
	cfg, err := Load()
	if err == nil && cfg.AutoDrain.Enabled != nil {
		return *cfg.AutoDrain.Enabled
	}
	return true
}

// GetAutoDrainInterval returns the periodic drain interval.
// Priority: SYNCQ_AUTO_DRAIN_INTERVAL env > config.json auto_drain.interval > 5m.
func GetAutoDrainInterval() time.Duration {
	return durationSetting("SYNCQ_AUTO_DRAIN_INTERVAL", func(c *Config) string {
		return c.AutoDrain.Interval
	}, 5*time.Minute)
}

// GetDebounce returns the quiet period for coalescing drain triggers in the
// background sync loop.
// Priority: SYNCQ_DEBOUNCE env > config.json auto_drain.debounce > 3s.
func GetDebounce() time.Duration {
	return durationSetting("SYNCQ_DEBOUNCE", func(c *Config) string {
		return c.AutoDrain.Debounce
	}, 3*time.Second)
}

func durationSetting(envKey string, pick func(*Config) string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := Load()
	if err == nil {
		if s := pick(cfg); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				return d
			}
		}
	}
	return fallback
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}
