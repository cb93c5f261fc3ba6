// ABOUTME: Configuration loading and parsing for the askbox server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker kinds
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Config represents the complete askbox server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`
	Auth     AuthConfig     `yaml:"auth"`
	Service  ServiceConfig  `yaml:"service"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BrokerConfig selects the event broker backend. Kind "memory" serves a
// single process; "redis" fans events out across server instances.
type BrokerConfig struct {
	Kind     string `yaml:"kind"`
	RedisURL string `yaml:"redis_url"`
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// ServiceConfig holds publication pipeline configuration
type ServiceConfig struct {
	// BaseURL is the canonical web URL answers are linked under in
	// mirrored posts.
	BaseURL string `yaml:"base_url"`
	// AppSecret is the shared secret misskey-family instances derive the
	// app-scoped request token from.
	AppSecret string `yaml:"app_secret"`
	Hashtag   string `yaml:"hashtag"`
}

// GatewayConfig holds websocket gateway configuration
type GatewayConfig struct {
	KeepAliveInterval    time.Duration `yaml:"-"`
	KeepAliveIntervalRaw string        `yaml:"keep_alive_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills optional fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Broker.Kind == "" {
		c.Broker.Kind = BrokerMemory
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 7 * 24 * time.Hour
	}
	if c.Gateway.KeepAliveInterval == 0 {
		c.Gateway.KeepAliveInterval = 30 * time.Second
	}
	if c.Service.Hashtag == "" {
		c.Service.Hashtag = "#askbox"
	}
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
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}

	switch c.Broker.Kind {
	case BrokerMemory:
	case BrokerRedis:
		if c.Broker.RedisURL == "" {
			return fmt.Errorf("broker.redis_url is required when broker.kind is redis")
		}
	default:
		return fmt.Errorf("broker.kind must be %q or %q, got %q", BrokerMemory, BrokerRedis, c.Broker.Kind)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Gateway.KeepAliveIntervalRaw != "" {
		cfg.Gateway.KeepAliveInterval, err = time.ParseDuration(cfg.Gateway.KeepAliveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing keep_alive_interval %q: %w", cfg.Gateway.KeepAliveIntervalRaw, err)
		}
	}

	if cfg.Auth.SessionTTLRaw != "" {
		cfg.Auth.SessionTTL, err = time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
	}

	return nil
}
