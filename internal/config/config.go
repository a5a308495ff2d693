// ABOUTME: Configuration loading and parsing for charter-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete charter-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Stream   StreamConfig   `yaml:"stream"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds transcript ledger configuration.
// An empty path disables the ledger entirely.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds session lifecycle timing configuration
type SessionConfig struct {
	IdleTimeout        time.Duration `yaml:"-"`
	TombstoneRetention time.Duration `yaml:"-"`
	CorrelationTTL     time.Duration `yaml:"-"`
	SweepInterval      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw        string `yaml:"idle_timeout"`
	TombstoneRetentionRaw string `yaml:"tombstone_retention"`
	CorrelationTTLRaw     string `yaml:"correlation_ttl"`
	SweepIntervalRaw      string `yaml:"sweep_interval"`
}

// StreamConfig holds live-update stream configuration
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	Buffer            int           `yaml:"buffer"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// AuthConfig holds authentication configuration.
// An empty secret disables API authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:8420"},
		Session: SessionConfig{
			IdleTimeout:        5 * time.Minute,
			TombstoneRetention: 10 * time.Minute,
			CorrelationTTL:     60 * time.Second,
			SweepInterval:      30 * time.Second,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 15 * time.Second,
			Buffer:            64,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config with defaults applied for anything unset. Environment variables in
// the format ${VAR_NAME} are expanded. Duration strings are parsed into
// time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.TombstoneRetention <= 0 {
		return fmt.Errorf("session.tombstone_retention must be positive")
	}
	if c.Stream.Buffer < 0 {
		return fmt.Errorf("stream.buffer must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		out  *time.Duration
	}{
		{cfg.Session.IdleTimeoutRaw, "idle_timeout", &cfg.Session.IdleTimeout},
		{cfg.Session.TombstoneRetentionRaw, "tombstone_retention", &cfg.Session.TombstoneRetention},
		{cfg.Session.CorrelationTTLRaw, "correlation_ttl", &cfg.Session.CorrelationTTL},
		{cfg.Session.SweepIntervalRaw, "sweep_interval", &cfg.Session.SweepInterval},
		{cfg.Stream.HeartbeatIntervalRaw, "heartbeat_interval", &cfg.Stream.HeartbeatInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.out = d
	}

	return nil
}
