// Package config handles configuration loading from YAML files and
// environment variables. Precedence: environment variables > config file
// > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML
// unmarshaling from human-readable strings like "10s", "1m", "24h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds configuration for both binaries. The agent reads the
// Agent and Logging sections; the server reads Server and Logging.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig holds collection-loop and local-state settings.
type AgentConfig struct {
	ServerURL string   `yaml:"server_url"`
	Interval  Duration `yaml:"interval"`
	QueuePath string   `yaml:"queue_path"`
	StatePath string   `yaml:"state_path"`
}

// ServerConfig holds ingestion server and retention settings.
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	DBPath         string   `yaml:"db_path"`
	RetentionDays  int      `yaml:"retention_days"`
	InactivityDays int      `yaml:"inactivity_days"`
	SweepInterval  Duration `yaml:"sweep_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			ServerURL: "http://localhost:5000",
			Interval:  Duration{10 * time.Second},
			QueuePath: "./local_cache.db",
			StatePath: "./client_config.json",
		},
		Server: ServerConfig{
			ListenAddr:     ":5000",
			DBPath:         "./system_stats.db",
			RetentionDays:  30,
			InactivityDays: 90,
			SweepInterval:  Duration{24 * time.Hour},
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and
// environment variables are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables have the highest precedence.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("PISTAT_SERVER_URL"); url != "" {
		cfg.Agent.ServerURL = url
	}
	if iv := os.Getenv("PISTAT_INTERVAL"); iv != "" {
		if parsed, err := time.ParseDuration(iv); err == nil {
			cfg.Agent.Interval = Duration{parsed}
		}
	}
	if addr := os.Getenv("PISTAT_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if path := os.Getenv("PISTAT_DB_PATH"); path != "" {
		cfg.Server.DBPath = path
	}
	if days := os.Getenv("PISTAT_RETENTION_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil && parsed > 0 {
			cfg.Server.RetentionDays = parsed
		}
	}
	if days := os.Getenv("PISTAT_INACTIVITY_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil && parsed > 0 {
			cfg.Server.InactivityDays = parsed
		}
	}
	if level := os.Getenv("PISTAT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Agent.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.Agent.Interval.Duration <= 0 {
		return fmt.Errorf("collection interval must be positive")
	}
	if c.Server.RetentionDays <= 0 || c.Server.InactivityDays <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}
	return nil
}
