package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/gregLibert/se-terminal/pkg/iso7816"
	"github.com/gregLibert/se-terminal/pkg/terminal"
	"gopkg.in/yaml.v2"
)

// EnvConfigFile names the YAML file loaded on top of the defaults.
const EnvConfigFile = "SE_TERMINAL_CONFIG"

// Config represents the complete configuration of the terminal
type Config struct {
	Reader string       `yaml:"reader"`
	Policy PolicyConfig `yaml:"policy"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

// PolicyConfig mirrors terminal.Policy
type PolicyConfig struct {
	AcceptSelectWarnings   bool `yaml:"acceptSelectWarnings"`
	SelectISDOnUnsupported bool `yaml:"selectIsdOnUnsupported"`
}

// EngineConfig holds protocol engine settings
type EngineConfig struct {
	MaxChain int `yaml:"maxChain"` // GET RESPONSE commands allowed per exchange
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty logs to stderr
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Load builds the configuration from defaults, the file named by SE_TERMINAL_CONFIG
// (or path when non-empty), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration
func Default() *Config {
	p := terminal.DefaultPolicy()
	return &Config{
		Policy: PolicyConfig{
			AcceptSelectWarnings:   p.AcceptSelectWarnings,
			SelectISDOnUnsupported: p.SelectISDOnUnsupported,
		},
		Engine: EngineConfig{
			MaxChain: iso7816.DefaultMaxChain,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if reader := os.Getenv("SE_TERMINAL_READER"); reader != "" {
		cfg.Reader = reader
	}

	if level := os.Getenv("SE_TERMINAL_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if maxChain := os.Getenv("SE_TERMINAL_MAX_CHAIN"); maxChain != "" {
		if n, err := strconv.Atoi(maxChain); err == nil {
			cfg.Engine.MaxChain = n
		}
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Engine.MaxChain < 1 {
		return fmt.Errorf("engine.maxChain must be positive, got %d", c.Engine.MaxChain)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	if c.Log.File != "" && (c.Log.MaxSizeMB < 1 || c.Log.MaxBackups < 0) {
		return fmt.Errorf("log rotation needs maxSizeMb >= 1 and maxBackups >= 0, got %d/%d",
			c.Log.MaxSizeMB, c.Log.MaxBackups)
	}

	return nil
}

// TerminalPolicy converts the policy section
func (c *Config) TerminalPolicy() terminal.Policy {
	return terminal.Policy{
		AcceptSelectWarnings:   c.Policy.AcceptSelectWarnings,
		SelectISDOnUnsupported: c.Policy.SelectISDOnUnsupported,
	}
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", l.Level)
	}
	return level, nil
}
