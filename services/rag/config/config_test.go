// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Documents.DebounceWindow != 5*time.Second {
		t.Errorf("DebounceWindow = %v, want 5s", cfg.Documents.DebounceWindow)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9090
documents:
  watch_dirs: ["/srv/docs"]
  max_versions: 12
resilience:
  breaker_threshold: 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Documents.WatchDirs) != 1 || cfg.Documents.WatchDirs[0] != "/srv/docs" {
		t.Errorf("WatchDirs = %v", cfg.Documents.WatchDirs)
	}
	if cfg.Documents.MaxVersions != 12 {
		t.Errorf("MaxVersions = %d, want 12", cfg.Documents.MaxVersions)
	}
	if cfg.Resilience.BreakerThreshold != 3 {
		t.Errorf("BreakerThreshold = %d, want 3", cfg.Resilience.BreakerThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Weaviate.Scheme != "http" {
		t.Errorf("Scheme = %q, want http", cfg.Weaviate.Scheme)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load = nil, want parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load = nil, want read error")
	}
}

func TestLoad_ValidationRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load = nil, want validation error for out-of-range port")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WEAVIATE_HOST", "weaviate.internal:8081")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Weaviate.Host != "weaviate.internal:8081" {
		t.Errorf("Host = %q", cfg.Weaviate.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}
