// Package config handles configuration persistence for the lactlink
// controller: the unit identity, the I/O backend, the telemetry
// publishers, and the process setpoints.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Namespace string       `yaml:"namespace"` // topic/key prefix for publishers
	Unit      string       `yaml:"unit"`      // LACT unit identifier, e.g. "lact-01"
	IO        IOConfig     `yaml:"io"`
	Setpoints Setpoints    `yaml:"setpoints"`
	MQTT      MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey    ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     KafkaConfig  `yaml:"kafka,omitempty"`
	API       APIConfig    `yaml:"api"`
	Reports   ReportConfig `yaml:"reports"`
	LogFile   string       `yaml:"log_file,omitempty"`

	// dataMu protects config fields against concurrent mutation.
	// Callers that modify config should Lock(), modify, then call
	// UnlockAndSave(). Save() acquires the lock internally.
	dataMu sync.Mutex `yaml:"-"`
}

// IOConfig selects and parameterizes the field I/O backend.
type IOConfig struct {
	Backend string `yaml:"backend"` // "sim" or "modbus"
	Address string `yaml:"address,omitempty"`
	UnitID  byte   `yaml:"unit_id,omitempty"`
	Seed    int64  `yaml:"seed,omitempty"` // simulator PRNG seed
}

// MQTTConfig holds the tag/alarm telemetry publisher settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds the latest-value mirror and alarm journal settings.
type ValkeyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password,omitempty"`
	Database int           `yaml:"database"`
	KeyTTL   time.Duration `yaml:"key_ttl,omitempty"`
}

// KafkaConfig holds the batch/proving report producer settings.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	RequiredAcks int           `yaml:"required_acks,omitempty"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
	UseTLS       bool          `yaml:"use_tls,omitempty"`
}

// APIConfig holds the REST/SSE server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ReportConfig controls where batch and proving reports land on disk.
type ReportConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults:
// simulator I/O, API on, publishers off.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "lact",
		Unit:      "lact-01",
		IO: IOConfig{
			Backend: "sim",
			Seed:    1,
		},
		Setpoints: DefaultSetpoints(),
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Reports: ReportConfig{
			Path: "reports.jsonl",
		},
	}
}

// DefaultPath returns the default configuration file path
// (~/.lactlink/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".lactlink", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields
// defaults. Invalid setpoints abort with an error rather than running
// the unit on out-of-domain tunables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Unit == "" {
		return fmt.Errorf("unit name must not be empty")
	}
	if !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, underscores, and dots")
	}
	switch c.IO.Backend {
	case "sim", "modbus":
	default:
		return fmt.Errorf("unknown io backend: %q", c.IO.Backend)
	}
	if c.IO.Backend == "modbus" && c.IO.Address == "" {
		return fmt.Errorf("modbus backend requires io.address")
	}
	return c.Setpoints.Validate()
}

// IsValidNamespace returns true if the namespace is non-empty and
// contains only alphanumerics, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}

// Lock acquires the config data mutex for exclusive access.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, and writes. Use when the caller
// does not already hold the lock.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, then writes. The caller
// must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()

	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
