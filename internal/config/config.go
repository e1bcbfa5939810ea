package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the perchd configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Terminal    TerminalConfig    `yaml:"terminal"`
	Redact      RedactConfig      `yaml:"redact"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // host:port for the websocket channel
}

type WorkspaceConfig struct {
	Root string `yaml:"root"` // relative session cwds resolve against this
}

type TerminalConfig struct {
	Shell          string `yaml:"shell"`           // defaults to $SHELL, then /bin/sh
	DefaultEngine  string `yaml:"default_engine"`  // "auto", "line", "pipe"
	ForceEngine    string `yaml:"force_engine"`    // overrides per-request hints
	BufferCapacity int    `yaml:"buffer_capacity"` // max buffered chunks per session
	BufferLowWater int    `yaml:"buffer_low_water"`
}

type RedactConfig struct {
	Patterns    []string `yaml:"patterns"`
	Placeholder string   `yaml:"placeholder"`
}

type CredentialsConfig struct {
	Inject    bool             `yaml:"inject"` // off by default
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig names one secret-store entry to surface as an env var.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Env       string `yaml:"env"`
	SourceURL string `yaml:"source_url"`
	Key       string `yaml:"key"` // e.g. "blowfish://default"
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	DefaultBufferCapacity = 1000
	DefaultBufferLowWater = 800
	DefaultPlaceholder    = "[redacted]"
)

// Load reads configuration from a file, applies env overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a usable config without a file, for tests and `perch attach`.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if eng := os.Getenv("PERCH_TERM_ENGINE"); eng != "" {
		c.Terminal.ForceEngine = eng
	}
	if v := os.Getenv("PERCH_INJECT_CREDENTIALS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Credentials.Inject = b
		}
	}
	if sh := os.Getenv("PERCH_SHELL"); sh != "" {
		c.Terminal.Shell = sh
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:7630"
	}
	if c.Terminal.Shell == "" {
		if sh := os.Getenv("SHELL"); sh != "" {
			c.Terminal.Shell = sh
		} else {
			c.Terminal.Shell = "/bin/sh"
		}
	}
	if c.Terminal.DefaultEngine == "" {
		c.Terminal.DefaultEngine = "auto"
	}
	if c.Terminal.BufferCapacity == 0 {
		c.Terminal.BufferCapacity = DefaultBufferCapacity
	}
	if c.Terminal.BufferLowWater == 0 {
		c.Terminal.BufferLowWater = DefaultBufferLowWater
	}
	if c.Redact.Placeholder == "" {
		c.Redact.Placeholder = DefaultPlaceholder
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Terminal.DefaultEngine {
	case "auto", "line", "pipe":
	default:
		return fmt.Errorf("terminal.default_engine must be auto, line or pipe")
	}
	switch c.Terminal.ForceEngine {
	case "", "line", "pipe":
	default:
		return fmt.Errorf("terminal.force_engine must be line or pipe")
	}
	if c.Terminal.BufferLowWater >= c.Terminal.BufferCapacity {
		return fmt.Errorf("terminal.buffer_low_water (%d) must be below buffer_capacity (%d)",
			c.Terminal.BufferLowWater, c.Terminal.BufferCapacity)
	}
	for i, p := range c.Credentials.Providers {
		if p.Env == "" || p.SourceURL == "" {
			return fmt.Errorf("credentials.providers[%d]: env and source_url are required", i)
		}
	}
	return nil
}
