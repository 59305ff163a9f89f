// ABOUTME: Configuration loading and parsing for the nanobot console gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Cron      CronConfig      `yaml:"cron"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig holds reasoning engine connection and streaming configuration
type EngineConfig struct {
	Endpoint string `yaml:"endpoint"`

	HeartbeatInterval time.Duration `yaml:"-"`
	RequestTimeout    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	RequestTimeoutRaw    string `yaml:"request_timeout"`
}

// KnowledgeConfig holds the optional knowledge-base collaborator configuration
type KnowledgeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// CronConfig holds job synchronizer configuration
type CronConfig struct {
	ReconcileInterval time.Duration `yaml:"-"`

	ReconcileIntervalRaw string `yaml:"reconcile_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding YAML keys are absent.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultRequestTimeout    = 5 * time.Minute
	DefaultReconcileInterval = time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Engine.Endpoint == "" {
		return fmt.Errorf("engine.endpoint is required")
	}

	if c.Knowledge.Enabled && c.Knowledge.Endpoint == "" {
		return fmt.Errorf("knowledge.endpoint is required when knowledge is enabled")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Engine.HeartbeatInterval == 0 {
		c.Engine.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Engine.RequestTimeout == 0 {
		c.Engine.RequestTimeout = DefaultRequestTimeout
	}
	if c.Cron.ReconcileInterval == 0 {
		c.Cron.ReconcileInterval = DefaultReconcileInterval
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Engine.HeartbeatIntervalRaw != "" {
		cfg.Engine.HeartbeatInterval, err = time.ParseDuration(cfg.Engine.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Engine.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Engine.RequestTimeoutRaw != "" {
		cfg.Engine.RequestTimeout, err = time.ParseDuration(cfg.Engine.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Engine.RequestTimeoutRaw, err)
		}
	}

	if cfg.Cron.ReconcileIntervalRaw != "" {
		cfg.Cron.ReconcileInterval, err = time.ParseDuration(cfg.Cron.ReconcileIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reconcile_interval %q: %w", cfg.Cron.ReconcileIntervalRaw, err)
		}
	}

	return nil
}
