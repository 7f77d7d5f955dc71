package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/shredtap/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
shredtap:
  node:
    id: "tap-1"
    tags:
      cluster: "testnet"
  log:
    level: "debug"
    format: "json"
  receiver:
    bind: "127.0.0.1:9000"
    read_timeout: "500ms"
    queue_capacity: 4096
    batch_size: 32
    expected_shred_version: 9065
  discovery:
    enabled: true
    peers_file: "/etc/shredtap/peers.yaml"
    threshold: 50
    max_wait: "30s"
  plugins:
    start_policy: "fail_fast"
    outputs:
      - type: "console"
      - name: "archive"
        type: "store"
        enabled: false
        config:
          dir: "/var/lib/shredtap"
  metrics:
    enabled: true
    listen: "127.0.0.1:9091"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Node.ID != "tap-1" {
		t.Errorf("Expected node id tap-1, got %s", cfg.Node.ID)
	}
	if cfg.Node.Tags["cluster"] != "testnet" {
		t.Errorf("Expected tag cluster=testnet, got %v", cfg.Node.Tags)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if cfg.Receiver.Bind != "127.0.0.1:9000" {
		t.Errorf("Expected bind 127.0.0.1:9000, got %s", cfg.Receiver.Bind)
	}
	if cfg.Receiver.ReadTimeout != 500*time.Millisecond {
		t.Errorf("Expected read timeout 500ms, got %v", cfg.Receiver.ReadTimeout)
	}
	if cfg.Receiver.QueueCapacity != 4096 || cfg.Receiver.BatchSize != 32 {
		t.Errorf("Unexpected receiver config: %+v", cfg.Receiver)
	}
	if cfg.Receiver.ExpectedShredVersion != 9065 {
		t.Errorf("Expected shred version 9065, got %d", cfg.Receiver.ExpectedShredVersion)
	}
	if !cfg.Discovery.Enabled || cfg.Discovery.Threshold != 50 || cfg.Discovery.MaxWait != 30*time.Second {
		t.Errorf("Unexpected discovery config: %+v", cfg.Discovery)
	}
	if cfg.Plugins.StartPolicy != StartPolicyFailFast {
		t.Errorf("Expected fail_fast, got %s", cfg.Plugins.StartPolicy)
	}
	if len(cfg.Plugins.Outputs) != 2 {
		t.Fatalf("Expected 2 outputs, got %d", len(cfg.Plugins.Outputs))
	}
	if cfg.Plugins.Outputs[0].Name != "console" || !cfg.Plugins.Outputs[0].IsEnabled() {
		t.Errorf("First output should default its name and be enabled: %+v", cfg.Plugins.Outputs[0])
	}
	if cfg.Plugins.Outputs[1].IsEnabled() {
		t.Error("Second output should be disabled")
	}
	if cfg.Plugins.Outputs[1].Config["dir"] != "/var/lib/shredtap" {
		t.Errorf("Expected store dir in plugin config, got %v", cfg.Plugins.Outputs[1].Config)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9091" {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "shredtap: {}\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected default log config: %+v", cfg.Log)
	}
	if cfg.Receiver.Bind != "0.0.0.0:8001" {
		t.Errorf("Expected default bind 0.0.0.0:8001, got %s", cfg.Receiver.Bind)
	}
	if cfg.Receiver.ReadTimeout != time.Second {
		t.Errorf("Expected default read timeout 1s, got %v", cfg.Receiver.ReadTimeout)
	}
	if cfg.Receiver.ErrorBackoff != 100*time.Millisecond {
		t.Errorf("Expected default error backoff 100ms, got %v", cfg.Receiver.ErrorBackoff)
	}
	if cfg.Receiver.StatsInterval != 10*time.Second {
		t.Errorf("Expected default stats interval 10s, got %v", cfg.Receiver.StatsInterval)
	}
	if cfg.Receiver.QueueCapacity != 0 {
		t.Errorf("Expected unbounded queue by default, got %d", cfg.Receiver.QueueCapacity)
	}
	if cfg.Discovery.Interval != time.Second || cfg.Discovery.DetailEvery != 10 ||
		cfg.Discovery.DetailLimit != 5 || cfg.Discovery.Threshold != 100 {
		t.Errorf("Unexpected default discovery config: %+v", cfg.Discovery)
	}
	if cfg.Plugins.StartPolicy != StartPolicyBestEffort {
		t.Errorf("Expected default start policy best_effort, got %s", cfg.Plugins.StartPolicy)
	}
	if cfg.Node.ID == "" {
		t.Error("Expected generated node id, got empty string")
	}
	if cfg.Node.Hostname == "" {
		t.Error("Expected detected hostname, got empty string")
	}
}

func TestDefaultWithoutFile(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if cfg.Receiver.Bind != "0.0.0.0:8001" {
		t.Errorf("Expected default bind, got %s", cfg.Receiver.Bind)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
shredtap:
  log:
    level: "info"
`)
	t.Setenv("SHREDTAP_LOG_LEVEL", "debug")
	t.Setenv("SHREDTAP_RECEIVER_BIND", "127.0.0.1:7000")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
	if cfg.Receiver.Bind != "127.0.0.1:7000" {
		t.Errorf("Expected bind from env var, got %s", cfg.Receiver.Bind)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "shredtap:\n  log:\n    level: loud\n"},
		{"log format", "shredtap:\n  log:\n    format: xml\n"},
		{"log file without path", "shredtap:\n  log:\n    file:\n      enabled: true\n      path: \"\"\n"},
		{"bind", "shredtap:\n  receiver:\n    bind: \"not-an-address\"\n"},
		{"bind without port", "shredtap:\n  receiver:\n    bind: \"127.0.0.1\"\n"},
		{"bind port out of range", "shredtap:\n  receiver:\n    bind: \":70000\"\n"},
		{"read timeout", "shredtap:\n  receiver:\n    read_timeout: 0s\n"},
		{"queue capacity", "shredtap:\n  receiver:\n    queue_capacity: -1\n"},
		{"discovery without peers file", "shredtap:\n  discovery:\n    enabled: true\n"},
		{"start policy", "shredtap:\n  plugins:\n    start_policy: sometimes\n"},
		{"output without type", "shredtap:\n  plugins:\n    outputs:\n      - name: a\n"},
		{"duplicate output", "shredtap:\n  plugins:\n    outputs:\n      - type: console\n      - type: console\n"},
		{"metrics path", "shredtap:\n  metrics:\n    enabled: true\n    path: metrics\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestBatchSizeClampedToOne(t *testing.T) {
	cfg, err := Load(writeConfig(t, "shredtap:\n  receiver:\n    batch_size: 0\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Receiver.BatchSize != 1 {
		t.Errorf("Expected batch size 1, got %d", cfg.Receiver.BatchSize)
	}
}

func TestBindAcceptsListenForms(t *testing.T) {
	for _, bind := range []string{":8001", "localhost:8001", "0.0.0.0:8001", "[::]:8001", "[::1]:0", "shred-host.internal:9000"} {
		t.Run(bind, func(t *testing.T) {
			t.Setenv("SHREDTAP_RECEIVER_BIND", bind)
			cfg, err := Load(writeConfig(t, "shredtap: {}\n"))
			if err != nil {
				t.Fatalf("Expected %q to be accepted, got %v", bind, err)
			}
			if cfg.Receiver.Bind != bind {
				t.Errorf("Expected bind %q, got %q", bind, cfg.Receiver.Bind)
			}
		})
	}
}
