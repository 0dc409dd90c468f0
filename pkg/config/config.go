// Package config loads the service configuration from YAML, with environment
// fallbacks for secrets and deployment identifiers.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// HTTP ports
	HTTPPort    int `yaml:"http_port"`
	MetricsPort int `yaml:"metrics_port"`

	// Storage selects the document store backend: memory, firestore, redis
	Storage StorageConfig `yaml:"storage"`

	// Analytics tunes the session tracker
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Chat configures the conversational widget
	Chat ChatConfig `yaml:"chat"`
}

// StorageConfig holds document store configuration
type StorageConfig struct {
	Provider string `yaml:"provider"` // memory, firestore, redis

	// GCP configuration (firestore provider)
	GCPProject     string `yaml:"gcp_project"`
	GCPCredentials string `yaml:"gcp_credentials"`

	// Redis configuration (redis provider)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// AnalyticsConfig holds session tracker tuning
type AnalyticsConfig struct {
	FlushIntervalSeconds    int `yaml:"flush_interval_seconds"`
	MinFlushIntervalSeconds int `yaml:"min_flush_interval_seconds"`
	ActiveWindowSeconds     int `yaml:"active_window_seconds"`
}

// FlushInterval returns the periodic flush cadence.
func (a AnalyticsConfig) FlushInterval() time.Duration {
	return time.Duration(a.FlushIntervalSeconds) * time.Second
}

// MinFlushInterval returns the throttle floor between flushes.
func (a AnalyticsConfig) MinFlushInterval() time.Duration {
	return time.Duration(a.MinFlushIntervalSeconds) * time.Second
}

// ActiveWindow returns the recent-activity window for the active flag.
func (a AnalyticsConfig) ActiveWindow() time.Duration {
	return time.Duration(a.ActiveWindowSeconds) * time.Second
}

// ChatConfig holds chat widget configuration
type ChatConfig struct {
	// Enabled gates the whole widget; when false chatbot metrics stay zero.
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Fallback is the canned reply used when the generative call fails.
	Fallback string `yaml:"fallback"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default builds a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = "memory"
	}
	if c.Analytics.FlushIntervalSeconds == 0 {
		c.Analytics.FlushIntervalSeconds = 30
	}
	if c.Analytics.MinFlushIntervalSeconds == 0 {
		c.Analytics.MinFlushIntervalSeconds = 10
	}
	if c.Analytics.ActiveWindowSeconds == 0 {
		c.Analytics.ActiveWindowSeconds = 300
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "gpt-4o-mini"
	}
	if c.Chat.Fallback == "" {
		c.Chat.Fallback = "Thanks for reaching out! Please use the contact form and we'll get back to you."
	}

	// Secrets and deployment IDs fall back to the environment
	if c.Storage.GCPProject == "" {
		c.Storage.GCPProject = os.Getenv("GCP_PROJECT")
	}
	if c.Storage.GCPCredentials == "" {
		c.Storage.GCPCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if c.Storage.RedisAddr == "" {
		c.Storage.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if c.Chat.APIKey == "" {
		c.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "memory":
	case "firestore":
		if c.Storage.GCPProject == "" {
			return fmt.Errorf("storage.gcp_project is required for the firestore provider")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis provider")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}

	if c.Chat.Enabled && c.Chat.APIKey == "" {
		return fmt.Errorf("chat.api_key is required when chat is enabled")
	}

	return nil
}
