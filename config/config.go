// Package config provides loading and parsing of the engine's YAML
// configuration. Keys mirror the memory-service deployment configuration:
// session lifecycle, context size limits, and store endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the memory engine.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Context ContextConfig `yaml:"context"`
	Redis   RedisConfig   `yaml:"redis,omitempty"`
	Etcd    EtcdConfig    `yaml:"etcd,omitempty"`
	Mongo   MongoConfig   `yaml:"mongo,omitempty"`
}

// SessionConfig controls session lifecycle and the expiry sweep.
type SessionConfig struct {
	// Timeout is how long an idle session stays alive.
	// Format: Go duration string (e.g., "1h", "30m"). Default: 1h.
	Timeout string `yaml:"timeout,omitempty"`

	// SweepInterval is the period of the background expiry sweep.
	// Format: Go duration string. Default: 5m.
	SweepInterval string `yaml:"sweep_interval,omitempty"`

	// MaxSessions bounds the active-session listing. Default: 1000.
	MaxSessions int `yaml:"max_sessions,omitempty"`

	// HistoryLimit is the default number of context-history records
	// returned per session. Default: 50.
	HistoryLimit int `yaml:"history_limit,omitempty"`
}

// ContextConfig controls context sizing and retrieval budgets.
type ContextConfig struct {
	// MaxSize is the maximum session context size in bytes. Oversized
	// writes are truncated or summarized, never rejected. Default: 10000.
	MaxSize int `yaml:"max_size,omitempty"`

	// AutoSummarize replaces oversized context with a summary marker plus
	// the most recent SummaryThreshold bytes instead of hard truncation.
	AutoSummarize bool `yaml:"auto_summarize"`

	// SummaryThreshold is the number of trailing bytes kept when
	// summarizing. Default: 8000.
	SummaryThreshold int `yaml:"summary_threshold,omitempty"`

	// MaxTokens is the default token budget for layered retrieval.
	// Default: 4000.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// RedisConfig points the fast store at a Redis endpoint.
// An empty URL disables the Redis tier.
type RedisConfig struct {
	URL string `yaml:"url,omitempty"`
}

// EtcdConfig points the fast store at an etcd cluster instead of Redis.
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints,omitempty"`
}

// MongoConfig points the durable store at a MongoDB deployment.
// An empty URI selects the in-process document store.
type MongoConfig struct {
	URI      string `yaml:"uri,omitempty"`
	Database string `yaml:"database,omitempty"`
}

// Default returns a Config populated with the engine defaults:
// 1h session timeout, 5m sweep, 10000-byte contexts with auto-summarize
// at an 8000-byte threshold, and in-process stores.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Timeout:       "1h",
			SweepInterval: "5m",
			MaxSessions:   1000,
			HistoryLimit:  50,
		},
		Context: ContextConfig{
			MaxSize:          10000,
			AutoSummarize:    true,
			SummaryThreshold: 8000,
			MaxTokens:        4000,
		},
	}
}

// Load reads and parses a YAML configuration file. Missing keys fall
// back to the Default values; a missing file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Session.Timeout == "" {
		c.Session.Timeout = def.Session.Timeout
	}
	if c.Session.SweepInterval == "" {
		c.Session.SweepInterval = def.Session.SweepInterval
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = def.Session.MaxSessions
	}
	if c.Session.HistoryLimit == 0 {
		c.Session.HistoryLimit = def.Session.HistoryLimit
	}
	if c.Context.MaxSize == 0 {
		c.Context.MaxSize = def.Context.MaxSize
	}
	if c.Context.SummaryThreshold == 0 {
		c.Context.SummaryThreshold = def.Context.SummaryThreshold
	}
	if c.Context.MaxTokens == 0 {
		c.Context.MaxTokens = def.Context.MaxTokens
	}
}

// GetTimeout parses the session timeout, falling back to 1h on a
// missing or malformed value.
func (s SessionConfig) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, time.Hour)
}

// GetSweepInterval parses the sweep interval, falling back to 5m.
func (s SessionConfig) GetSweepInterval() time.Duration {
	return parseDuration(s.SweepInterval, 5*time.Minute)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
