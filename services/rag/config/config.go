// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loadable from a YAML
// file with environment overrides.
//
// Thread Safety: safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Server contains the HTTP listener settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Documents contains the corpus and update settings.
	Documents DocumentsConfig `json:"documents" yaml:"documents"`

	// Resilience contains retry, breaker, and self-healing settings.
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`

	// Weaviate contains vector store connection settings.
	Weaviate WeaviateConfig `json:"weaviate" yaml:"weaviate"`

	// Logging contains log output settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DocumentsConfig contains corpus and auto-update settings.
type DocumentsConfig struct {
	// WatchDirs are the document roots to watch and reindex.
	WatchDirs []string `json:"watch_dirs" yaml:"watch_dirs" validate:"required,min=1"`

	// StateDir holds the content index and version snapshots.
	StateDir string `json:"state_dir" yaml:"state_dir"`

	// DebounceWindow for the file watcher.
	DebounceWindow time.Duration `json:"debounce_window" yaml:"debounce_window"`

	// MaxFileSizeMB caps individual document size.
	MaxFileSizeMB int64 `json:"max_file_size_mb" yaml:"max_file_size_mb" validate:"gte=0"`

	// MaxVersions bounds snapshot retention.
	MaxVersions int `json:"max_versions" yaml:"max_versions" validate:"gte=0"`

	// BatchSize for full reindex processing.
	BatchSize int `json:"batch_size" yaml:"batch_size" validate:"gte=0"`

	// ReindexAt is the daily full reindex time, "HH:MM" 24-hour, or
	// empty to disable scheduling.
	ReindexAt string `json:"reindex_at" yaml:"reindex_at" validate:"omitempty,len=5"`

	// Extensions are the supported document extensions.
	Extensions []string `json:"extensions" yaml:"extensions"`
}

// ResilienceConfig contains fault-tolerance settings.
type ResilienceConfig struct {
	MaxRetryAttempts   int           `json:"max_retry_attempts" yaml:"max_retry_attempts" validate:"gte=0,lte=20"`
	RetryBackoffFactor float64       `json:"retry_backoff_factor" yaml:"retry_backoff_factor" validate:"gte=0"`
	BreakerThreshold   int           `json:"breaker_threshold" yaml:"breaker_threshold" validate:"gte=0"`
	BreakerTimeout     time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
	SelfHealing        bool          `json:"self_healing" yaml:"self_healing"`
	CacheInvalidation  bool          `json:"cache_invalidation" yaml:"cache_invalidation"`
	TrackQueryPatterns bool          `json:"track_query_patterns" yaml:"track_query_patterns"`
	MemoryLeakDetect   bool          `json:"memory_leak_detection" yaml:"memory_leak_detection"`
	DiskPath           string        `json:"disk_path" yaml:"disk_path"`
}

// WeaviateConfig contains vector store connection settings.
type WeaviateConfig struct {
	Host   string `json:"host" yaml:"host"`
	Scheme string `json:"scheme" yaml:"scheme" validate:"omitempty,oneof=http https"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	LogDir string `json:"log_dir" yaml:"log_dir"`
	JSON   bool   `json:"json" yaml:"json"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Documents: DocumentsConfig{
			WatchDirs:      []string{"./documents"},
			StateDir:       "./.rag",
			DebounceWindow: 5 * time.Second,
			MaxFileSizeMB:  50,
			MaxVersions:    5,
			BatchSize:      10,
			ReindexAt:      "02:00",
		},
		Resilience: ResilienceConfig{
			MaxRetryAttempts:   3,
			RetryBackoffFactor: 2,
			BreakerThreshold:   5,
			BreakerTimeout:     60 * time.Second,
			SelfHealing:        true,
			CacheInvalidation:  true,
			TrackQueryPatterns: true,
			MemoryLeakDetect:   true,
			DiskPath:           "/",
		},
		Weaviate: WeaviateConfig{
			Host:   "localhost:8081",
			Scheme: "http",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path on top of defaults, applies
// environment overrides, and validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides for the settings
// that change between deployments.
func (c *Config) applyEnv() {
	if host := os.Getenv("WEAVIATE_HOST"); host != "" {
		c.Weaviate.Host = host
	}
	if scheme := os.Getenv("WEAVIATE_SCHEME"); scheme != "" {
		c.Weaviate.Scheme = scheme
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
