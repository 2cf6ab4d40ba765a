// Package config provides configuration loading for deployd.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DEPLOYD_GATEWAY_DENYLIST, DEPLOYD_LOGGING_LEVEL, ...)
//  2. YAML config file
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/deployd/internal/gateway"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/redact"
	"github.com/fyrsmithlabs/deployd/internal/telemetry"
)

const (
	// envPrefix namespaces deployd environment variables.
	envPrefix = "DEPLOYD_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// RunnerConfig controls the command execution boundary.
type RunnerConfig struct {
	// CommandTimeout bounds a single external command. Exceeding it is
	// treated as cancellation, not failure.
	CommandTimeout time.Duration `koanf:"command_timeout"`
}

// EventsConfig controls event forwarding.
type EventsConfig struct {
	// NATSURL enables forwarding when non-empty.
	NATSURL string `koanf:"nats_url"`

	// SubjectPrefix is the leading token of forwarded subjects.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Config is the full deployd configuration tree.
type Config struct {
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Gateway   gateway.Policy   `koanf:"gateway"`
	Runner    RunnerConfig     `koanf:"runner"`
	Events    EventsConfig     `koanf:"events"`
	Redact    redact.Config    `koanf:"redact"`
}

// NewDefaultConfig returns the stock configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Gateway:   gateway.DefaultPolicy(),
		Runner: RunnerConfig{
			CommandTimeout: 5 * time.Minute,
		},
		Events: EventsConfig{
			SubjectPrefix: "deploy",
		},
		Redact: *redact.NewDefaultConfig(),
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if c.Runner.CommandTimeout <= 0 {
		return fmt.Errorf("runner: command_timeout must be positive")
	}
	if _, err := redact.New(&c.Redact); err != nil {
		return fmt.Errorf("redact: %w", err)
	}
	return nil
}

// Load reads configuration from an optional YAML file, then overrides with
// DEPLOYD_* environment variables. An empty configPath skips the file layer.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	// Environment variables override the file layer.
	// DEPLOYD_LOGGING_LEVEL -> logging.level
	// DEPLOYD_GATEWAY_MAX_ACTION_LENGTH -> gateway.max_action_length
	if err := k.Load(env.Provider(envPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// transformEnv maps environment variable names onto config keys. The first
// underscore separates the section from the field; fields keep their
// remaining underscores.
func transformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens and validates the config file through a single file
// descriptor to avoid TOCTOU races.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}
