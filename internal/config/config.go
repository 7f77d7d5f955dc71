// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"firestige.xyz/shredtap/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `shredtap:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node"`
	Log       LogConfig       `mapstructure:"log"`
	Receiver  ReceiverConfig  `mapstructure:"receiver"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Plugins   PluginsConfig   `mapstructure:"plugins"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	ID       string            `mapstructure:"id"`       // Empty = random UUID per process
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level"`  // debug / info / warn / error
	Format     string           `mapstructure:"format"` // json / text
	Pattern    string           `mapstructure:"pattern"`
	TimeFormat string           `mapstructure:"time_format"`
	File       FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Receiver ───

// ReceiverConfig configures the shred socket and receive loop.
type ReceiverConfig struct {
	Bind                 string        `mapstructure:"bind"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	ErrorBackoff         time.Duration `mapstructure:"error_backoff"`
	StatsInterval        time.Duration `mapstructure:"stats_interval"`
	QueueCapacity        int           `mapstructure:"queue_capacity"` // 0 = unbounded
	BatchSize            int           `mapstructure:"batch_size"`     // <= 1 = single reads
	ExpectedShredVersion uint16        `mapstructure:"expected_shred_version"`
	ReadBufferBytes      int           `mapstructure:"read_buffer_bytes"` // 0 = kernel default
}

// ─── Discovery ───

// DiscoveryConfig configures the peer discovery loop.
type DiscoveryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	PeersFile   string        `mapstructure:"peers_file"`
	Interval    time.Duration `mapstructure:"interval"`
	DetailEvery int           `mapstructure:"detail_every"`
	DetailLimit int           `mapstructure:"detail_limit"`
	Threshold   int           `mapstructure:"threshold"`
	MaxWait     time.Duration `mapstructure:"max_wait"` // 0 = wait until shutdown
}

// ─── Plugins ───

const (
	StartPolicyBestEffort = "best_effort"
	StartPolicyFailFast   = "fail_fast"
)

// PluginsConfig lists output plugins in registration order.
type PluginsConfig struct {
	StartPolicy string         `mapstructure:"start_policy"`
	Outputs     []OutputConfig `mapstructure:"outputs"`
}

// OutputConfig configures one output plugin instance.
type OutputConfig struct {
	Name    string         `mapstructure:"name"` // Empty = Type
	Type    string         `mapstructure:"type"`
	Enabled *bool          `mapstructure:"enabled"` // nil = true
	Config  map[string]any `mapstructure:"config"`
}

// IsEnabled reports whether the output should be loaded.
func (o OutputConfig) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `shredtap: ...`.
type configRoot struct {
	Shredtap GlobalConfig `mapstructure:"shredtap"`
}

// Load loads configuration from file.
// The YAML file uses `shredtap:` as root key; env vars use the SHREDTAP_ prefix
// (e.g. SHREDTAP_RECEIVER_BIND).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

// Default returns the configuration used when no file is given.
func Default() (*GlobalConfig, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*GlobalConfig, error) {
	// key "shredtap.receiver.bind" → env "SHREDTAP_RECEIVER_BIND"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Shredtap

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "shredtap." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("shredtap.node.id", "")

	// Log defaults
	v.SetDefault("shredtap.log.level", "info")
	v.SetDefault("shredtap.log.format", "text")
	v.SetDefault("shredtap.log.file.enabled", false)
	v.SetDefault("shredtap.log.file.path", "/var/log/shredtap/shredtap.log")
	v.SetDefault("shredtap.log.file.rotation.max_size_mb", 100)
	v.SetDefault("shredtap.log.file.rotation.max_age_days", 30)
	v.SetDefault("shredtap.log.file.rotation.max_backups", 5)
	v.SetDefault("shredtap.log.file.rotation.compress", true)

	// Receiver defaults
	v.SetDefault("shredtap.receiver.bind", "0.0.0.0:8001")
	v.SetDefault("shredtap.receiver.read_timeout", "1s")
	v.SetDefault("shredtap.receiver.error_backoff", "100ms")
	v.SetDefault("shredtap.receiver.stats_interval", "10s")
	v.SetDefault("shredtap.receiver.queue_capacity", 0)
	v.SetDefault("shredtap.receiver.batch_size", 1)
	v.SetDefault("shredtap.receiver.expected_shred_version", 0)
	v.SetDefault("shredtap.receiver.read_buffer_bytes", 0)

	// Discovery defaults
	v.SetDefault("shredtap.discovery.enabled", false)
	v.SetDefault("shredtap.discovery.interval", "1s")
	v.SetDefault("shredtap.discovery.detail_every", 10)
	v.SetDefault("shredtap.discovery.detail_limit", 5)
	v.SetDefault("shredtap.discovery.threshold", 100)
	v.SetDefault("shredtap.discovery.max_wait", "120s")

	// Plugin defaults
	v.SetDefault("shredtap.plugins.start_policy", StartPolicyBestEffort)

	// Metrics defaults
	v.SetDefault("shredtap.metrics.enabled", false)
	v.SetDefault("shredtap.metrics.listen", ":9091")
	v.SetDefault("shredtap.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return invalid("log.file.path is required when log.file.enabled=true")
	}

	// ── Node identity ──
	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
	}
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Receiver ──
	r := &cfg.Receiver
	if err := validateBind(r.Bind); err != nil {
		return invalid("invalid receiver.bind %q: %v", r.Bind, err)
	}
	if r.ReadTimeout <= 0 {
		return invalid("receiver.read_timeout must be positive")
	}
	if r.ErrorBackoff < 0 {
		return invalid("receiver.error_backoff must not be negative")
	}
	if r.StatsInterval <= 0 {
		return invalid("receiver.stats_interval must be positive")
	}
	if r.QueueCapacity < 0 {
		return invalid("receiver.queue_capacity must not be negative")
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}

	// ── Discovery ──
	d := &cfg.Discovery
	if d.Enabled {
		if d.PeersFile == "" {
			return invalid("discovery.peers_file is required when discovery.enabled=true")
		}
		if d.Interval <= 0 {
			return invalid("discovery.interval must be positive")
		}
		if d.Threshold < 1 {
			return invalid("discovery.threshold must be positive")
		}
		if d.DetailLimit < 0 || d.MaxWait < 0 {
			return invalid("discovery.detail_limit and discovery.max_wait must not be negative")
		}
	}

	// ── Plugins ──
	switch cfg.Plugins.StartPolicy {
	case "":
		cfg.Plugins.StartPolicy = StartPolicyBestEffort
	case StartPolicyBestEffort, StartPolicyFailFast:
	default:
		return invalid("unsupported plugins.start_policy: %s (must be %s/%s)",
			cfg.Plugins.StartPolicy, StartPolicyBestEffort, StartPolicyFailFast)
	}
	seen := make(map[string]bool, len(cfg.Plugins.Outputs))
	for i := range cfg.Plugins.Outputs {
		o := &cfg.Plugins.Outputs[i]
		if o.Type == "" {
			return invalid("plugins.outputs[%d].type is required", i)
		}
		if o.Name == "" {
			o.Name = o.Type
		}
		if seen[o.Name] {
			return invalid("duplicate output name: %s", o.Name)
		}
		seen[o.Name] = true
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return invalid("metrics.listen is required when metrics.enabled=true")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return invalid("metrics.path must start with '/': %s", cfg.Metrics.Path)
		}
	}

	return nil
}

// validateBind accepts the host:port forms net.ListenPacket does (":8001",
// "localhost:8001", "[::]:8001"). Host names are resolved at bind time.
func validateBind(bind string) error {
	_, port, err := net.SplitHostPort(bind)
	if err != nil {
		return err
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("port %q is not a number in 0-65535", port)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
