// Package config loads the coordinator configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config holds all coordinator configuration.
type Config struct {
	LogLevel string        `yaml:"log_level" default:"none"`
	Scan     ScanConfig    `yaml:"scan"`
	Conn     ConnConfig    `yaml:"connection"`
	Adapter  AdapterConfig `yaml:"adapter"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Duration     time.Duration `yaml:"duration" default:"10s"`
	MinRSSI      int           `yaml:"min_rssi"`
	AllowList    []string      `yaml:"allow_list"`
	BlockList    []string      `yaml:"block_list"`
	ServiceUUIDs []string      `yaml:"service_uuids"`
}

// ConnConfig holds connection lifecycle settings.
type ConnConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"10s"`
}

// AdapterConfig holds radio observation settings.
type AdapterConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bleflow", "config.yaml")
}

// Default returns a Config with default values applied.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "none", "error", "warning", "warn", "info", "debug", "verbose", "trace":
	default:
		return fmt.Errorf("log_level must be none, error, warning, info, debug, or verbose, got %q", c.LogLevel)
	}

	if c.Scan.Duration <= 0 {
		return fmt.Errorf("scan.duration must be > 0")
	}
	if c.Conn.ConnectTimeout <= 0 {
		return fmt.Errorf("connection.connect_timeout must be > 0")
	}
	if c.Conn.OperationTimeout <= 0 {
		return fmt.Errorf("connection.operation_timeout must be > 0")
	}
	if c.Adapter.PollInterval <= 0 {
		return fmt.Errorf("adapter.poll_interval must be > 0")
	}
	return nil
}
