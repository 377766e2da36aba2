package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Pipeline.BatchSize != 1000 {
			t.Errorf("BatchSize = %d, want 1000", cfg.Pipeline.BatchSize)
		}
		if cfg.Cache.Enabled || cfg.Store.Enabled {
			t.Error("cache and store should be disabled by default")
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
pipeline:
  batch_size: 50
  worker_count: 2
cache:
  enabled: true
  default_ttl: 10m
logging:
  level: debug
  format: console
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("Port = %d, want 9090", cfg.Server.Port)
		}
		if cfg.Pipeline.BatchSize != 50 || cfg.Pipeline.WorkerCount != 2 {
			t.Errorf("pipeline = %+v", cfg.Pipeline)
		}
		if !cfg.Cache.Enabled || cfg.Cache.DefaultTTL != 10*time.Minute {
			t.Errorf("cache = %+v", cfg.Cache)
		}
		// untouched keys keep defaults
		if cfg.Pipeline.ProgressReport != 10000 {
			t.Errorf("ProgressReport = %d, want default 10000", cfg.Pipeline.ProgressReport)
		}
		if cfg.Cache.KeyPrefix != "pii-redactor" {
			t.Errorf("KeyPrefix = %q, want default", cfg.Cache.KeyPrefix)
		}
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("expected error for missing explicit config file")
		}
	})

	t.Run("InvalidValues", func(t *testing.T) {
		tests := map[string]string{
			"port":          "server:\n  port: 70000\n",
			"log level":     "logging:\n  level: trace\n",
			"log format":    "logging:\n  format: xml\n",
			"batch size":    "pipeline:\n  batch_size: 0\n",
			"output format": "output:\n  format: xlsx\n",
			"rate limit":    "rate_limit:\n  enabled: true\n  requests_per_min: 0\n",
		}
		for name, body := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := Load(writeConfig(t, body))
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !strings.Contains(err.Error(), "invalid") {
					t.Errorf("error = %v, want invalid configuration", err)
				}
			})
		}
	})
}

func TestValidateConfigDefaults(t *testing.T) {
	if err := validateConfig(GetDefaults()); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("REDACTOR_CACHE_ENABLED", "true")
	t.Setenv("REDACTOR_PIPELINE_WORKER_COUNT", "9")
	t.Setenv("REDACTOR_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Cache.Enabled {
		t.Error("REDACTOR_CACHE_ENABLED was not applied")
	}
	if cfg.Pipeline.WorkerCount != 9 {
		t.Errorf("WorkerCount = %d, want 9", cfg.Pipeline.WorkerCount)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %s, want warn", cfg.Logging.Level)
	}
}
