// Package config provides configuration for the playlist watch services.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// QuotaConfig bounds daily API consumption.
type QuotaConfig struct {
	DailyLimit       int     `mapstructure:"daily_limit" yaml:"daily_limit"`
	WarningThreshold float64 `mapstructure:"warning_threshold" yaml:"warning_threshold"`
}

// RateLimitConfig configures the sliding-window request throttle.
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
}

// StorageConfig configures the persistent store and the pressure monitor.
type StorageConfig struct {
	DBPath            string        `mapstructure:"db_path" yaml:"db_path"`
	WarningThreshold  float64       `mapstructure:"warning_threshold" yaml:"warning_threshold"`
	CriticalThreshold float64       `mapstructure:"critical_threshold" yaml:"critical_threshold"`
	CheckInterval     time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	Retention         time.Duration `mapstructure:"retention" yaml:"retention"`
	BytesPerRecord    int64         `mapstructure:"bytes_per_record" yaml:"bytes_per_record"`
	FallbackQuota     int64         `mapstructure:"fallback_quota" yaml:"fallback_quota"`
}

// RetryConfig configures the error governor's retry scheduling.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// ReconcilerConfig configures the page-side observer.
type ReconcilerConfig struct {
	ContainerRetries    int           `mapstructure:"container_retries" yaml:"container_retries"`
	ContainerRetryDelay time.Duration `mapstructure:"container_retry_delay" yaml:"container_retry_delay"`
}

// DaprConfig names the dapr components backing the key-value and cross-device
// sync capabilities.
type DaprConfig struct {
	StateStore string `mapstructure:"state_store" yaml:"state_store"`
	SyncStore  string `mapstructure:"sync_store" yaml:"sync_store"`
	Pubsub     string `mapstructure:"pubsub" yaml:"pubsub"`
	SyncTopic  string `mapstructure:"sync_topic" yaml:"sync_topic"`
	AppPort    string `mapstructure:"app_port" yaml:"app_port"`
}

// Config is the root configuration.
type Config struct {
	APIKey       string           `mapstructure:"api_key" yaml:"api_key"`
	SyncInterval time.Duration    `mapstructure:"sync_interval" yaml:"sync_interval"`
	Quota        QuotaConfig      `mapstructure:"quota" yaml:"quota"`
	RateLimit    RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Storage      StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Retry        RetryConfig      `mapstructure:"retry" yaml:"retry"`
	Reconciler   ReconcilerConfig `mapstructure:"reconciler" yaml:"reconciler"`
	Dapr         DaprConfig       `mapstructure:"dapr" yaml:"dapr"`
}

// Default returns the configuration used when no file or environment override
// is present. The numbers match the provider's published quota model and the
// storage thresholds the cleanup policy was tuned for.
func Default() Config {
	return Config{
		SyncInterval: time.Hour,
		Quota: QuotaConfig{
			DailyLimit:       10000,
			WarningThreshold: 0.8,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 5,
			Window:      time.Second,
		},
		Storage: StorageConfig{
			DBPath:            "playlistwatch.db",
			WarningThreshold:  0.8,
			CriticalThreshold: 0.95,
			CheckInterval:     6 * time.Hour,
			Retention:         3 * 24 * time.Hour,
			BytesPerRecord:    1024,
			FallbackQuota:     100 * 1024 * 1024,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			MinInterval: time.Second,
			BaseDelay:   time.Second,
		},
		Reconciler: ReconcilerConfig{
			ContainerRetries:    3,
			ContainerRetryDelay: time.Second,
		},
		Dapr: DaprConfig{
			StateStore: "statestore",
			SyncStore:  "syncstore",
			Pubsub:     "pubsub",
			SyncTopic:  "video-sync",
			AppPort:    "6002",
		},
	}
}

// Load reads configuration from the given file path (optional) with PW_*
// environment variables taking precedence, layered over Default.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("PW")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would disable core guarantees.
func (c Config) Validate() error {
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota daily_limit must be positive, got %d", c.Quota.DailyLimit)
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit requires positive max_requests and window")
	}
	if c.Storage.WarningThreshold <= 0 || c.Storage.CriticalThreshold <= c.Storage.WarningThreshold {
		return fmt.Errorf("storage thresholds must satisfy 0 < warning < critical")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	return nil
}
