// Package project provides per-project configuration management
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the per-project configuration file
const FileName = ".foreman.toml"

// Config holds per-project Foreman configuration
type Config struct {
	// Project-specific guidelines prepended to every agent prompt
	Guidelines string `toml:"guidelines"`

	// Coverage threshold for the coverage check (0 keeps the global default)
	CoverageThreshold float64 `toml:"coverage_threshold"`

	// Default check subset when a caller does not specify one
	Checks []string `toml:"checks"`

	Verification Verification `toml:"verification"`

	// Endpoints that receive board events
	Webhooks []Webhook `toml:"webhooks"`

	// File path where this config was loaded
	configPath string
}

// Verification holds verification overrides
type Verification struct {
	// Commands maps a check name to the shell command that implements it
	Commands map[string]string `toml:"commands"`
}

// Webhook is one [[webhooks]] entry
type Webhook struct {
	ID      string            `toml:"id"`
	URL     string            `toml:"url"`
	Secret  string            `toml:"secret"`
	Events  []string          `toml:"events"`
	Headers map[string]string `toml:"headers"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Verification: Verification{Commands: map[string]string{}},
	}
}

// Load loads the project configuration from the project directory
// If no .foreman.toml exists, returns a default config
func Load(projectDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configPath = filepath.Join(projectDir, FileName)

	data, err := os.ReadFile(cfg.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", cfg.configPath, err)
	}
	if cfg.Verification.Commands == nil {
		cfg.Verification.Commands = map[string]string{}
	}

	return cfg, cfg.Validate()
}

// Save saves the configuration to .foreman.toml
func (c *Config) Save() error {
	if c.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	dir := filepath.Dir(c.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.Create(c.configPath)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetPath sets where Save writes the configuration
func (c *Config) SetPath(projectDir string) {
	c.configPath = filepath.Join(projectDir, FileName)
}

// ConfigPath returns the path to the config file
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CoverageThreshold < 0 || c.CoverageThreshold > 100 {
		return fmt.Errorf("coverage_threshold must be between 0 and 100, got %v", c.CoverageThreshold)
	}
	for name, cmd := range c.Verification.Commands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("verification command for %q is empty", name)
		}
	}
	for i, w := range c.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("webhook %d: url must be http(s), got %q", i+1, w.URL)
		}
	}
	return nil
}

// GetGuidelines returns the project guidelines formatted for prompt inclusion
func (c *Config) GetGuidelines() string {
	if c == nil || c.Guidelines == "" {
		return ""
	}
	return strings.TrimSpace(c.Guidelines)
}

// CommandFor returns the configured command override for a check
func (c *Config) CommandFor(check string) (string, bool) {
	if c == nil {
		return "", false
	}
	cmd, ok := c.Verification.Commands[check]
	return cmd, ok
}
