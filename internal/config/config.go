// Resonance - Offline-Resilient Music Streaming Client Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/resonance

// Package config holds all Resonance configuration, loaded with Koanf v2
// in three layers: built-in defaults, an optional YAML config file, and
// RESONANCE_-prefixed environment variables (highest priority).
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Health       HealthConfig       `koanf:"health"`
	Reconnect    ReconnectConfig    `koanf:"reconnect"`
	Sync         SyncConfig         `koanf:"sync"`
	Store        StoreConfig        `koanf:"store"`
	AudioCache   AudioCacheConfig   `koanf:"audio_cache"`
	Playback     PlaybackConfig     `koanf:"playback"`
	Control      ControlConfig      `koanf:"control"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// ServerConfig holds the remote music server connection settings.
// The wire format is Subsonic-compatible; Username/Password are used for
// the salted-token authentication scheme.
type ServerConfig struct {
	URL      string        `koanf:"url" validate:"required,url"`
	Username string        `koanf:"username" validate:"required"`
	Password string        `koanf:"password" validate:"required"`
	Client   string        `koanf:"client"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
}

// ConnectivityConfig controls OS connectivity classification and the
// internet reachability probe.
type ConnectivityConfig struct {
	// ProbeURL is probed whenever the OS reports a non-offline transport
	// set, to distinguish "radio up" from "internet reachable".
	ProbeURL     string        `koanf:"probe_url" validate:"required,url"`
	ProbeTimeout time.Duration `koanf:"probe_timeout" validate:"gt=0"`
}

// HealthConfig controls the server liveness monitor.
type HealthConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// ReconnectConfig controls the bounded reconnection sequencer.
// Backoff is linear: BaseDelay × attempt number (2s, 4s, 6s, ...).
type ReconnectConfig struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"gt=0"`
	BaseDelay   time.Duration `koanf:"base_delay" validate:"gt=0"`
}

// SyncConfig controls the adaptive library sync scheduler.
type SyncConfig struct {
	// Interval is the base tick; it is halved on Wifi and doubled on
	// Mobile to bound data usage.
	Interval       time.Duration `koanf:"interval" validate:"gt=0"`
	QuickStaleness time.Duration `koanf:"quick_staleness" validate:"gt=0"`
	FullStaleness  time.Duration `koanf:"full_staleness" validate:"gt=0"`
	RecentCount    int           `koanf:"recent_count" validate:"gt=0"`
}

// StoreConfig holds the badger store location.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// AudioCacheConfig controls audio pre-fetch and validation.
type AudioCacheConfig struct {
	Dir string `koanf:"dir" validate:"required"`

	// MinFileBytes guards against truncated downloads: cached files
	// smaller than this are treated as corrupt and evicted on read.
	MinFileBytes int64 `koanf:"min_file_bytes" validate:"gt=0"`

	// MaxConcurrent bounds simultaneous downloads.
	MaxConcurrent int `koanf:"max_concurrent" validate:"gt=0"`

	// RateBytesPerSec limits aggregate download throughput. 0 = unlimited.
	RateBytesPerSec int `koanf:"rate_bytes_per_sec" validate:"gte=0"`

	// PreCacheCount is how many upcoming queue tracks to prime.
	PreCacheCount int `koanf:"pre_cache_count" validate:"gte=0"`
}

// PlaybackConfig controls the playback recovery controller.
type PlaybackConfig struct {
	MaxRetries     int           `koanf:"max_retries" validate:"gt=0"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gt=0"`

	// PositionPublishInterval throttles position updates on the event
	// bus; the raw engine stream can tick many times per second.
	PositionPublishInterval time.Duration `koanf:"position_publish_interval" validate:"gt=0"`
}

// ControlConfig holds the localhost control API settings.
type ControlConfig struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"gt=0,lte=65535"`

	// RetryRateLimit bounds manual-retry requests per minute.
	RetryRateLimit int `koanf:"retry_rate_limit" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:      "http://127.0.0.1:4533",
			Username: "resonance",
			Password: "resonance",
			Client:   "resonance",
			Timeout:  15 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeURL:     "https://connectivitycheck.gstatic.com/generate_204",
			ProbeTimeout: 3 * time.Second,
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			BaseDelay:   2 * time.Second,
		},
		Sync: SyncConfig{
			Interval:       5 * time.Minute,
			QuickStaleness: 15 * time.Minute,
			FullStaleness:  time.Hour,
			RecentCount:    50,
		},
		Store: StoreConfig{
			Path: "/data/resonance/store",
		},
		AudioCache: AudioCacheConfig{
			Dir:             "/data/resonance/audio",
			MinFileBytes:    1000,
			MaxConcurrent:   3,
			RateBytesPerSec: 0,
			PreCacheCount:   2,
		},
		Playback: PlaybackConfig{
			MaxRetries:              3,
			RetryBaseDelay:          500 * time.Millisecond,
			PositionPublishInterval: time.Second,
		},
		Control: ControlConfig{
			Host:           "127.0.0.1",
			Port:           4537,
			RetryRateLimit: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
