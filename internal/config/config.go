// Package config handles Foreman configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Config holds Foreman configuration
type Config struct {
	// Database location
	DatabasePath string

	// Agent runtime
	AgentPath           string // path to agent binary
	MaxConcurrentAgents int    // global ceiling across all pipelines
	DesignModel         types.Model
	ExecuteModel        types.Model

	// Per-model agent timeouts for pipeline agents
	ModelTimeouts map[types.Model]time.Duration

	// Per-model delays used by simulate mode
	SimulateDelays map[types.Model]time.Duration

	// Single-agent execute/design timeout
	TaskTimeout time.Duration

	// Implementation waiter
	PollInterval          time.Duration
	ImplementationTimeout time.Duration

	// Verification
	CheckTimeout      time.Duration
	CoverageThreshold float64

	// Project directory (detected)
	ProjectDir string

	// Verbose mode for debugging
	Verbose bool
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:        defaultDatabasePath(),
		AgentPath:           "claude",
		MaxConcurrentAgents: 5,
		DesignModel:         types.ModelOpus,
		ExecuteModel:        types.ModelSonnet,
		ModelTimeouts: map[types.Model]time.Duration{
			types.ModelHaiku:  5 * time.Minute,
			types.ModelSonnet: 10 * time.Minute,
			types.ModelOpus:   15 * time.Minute,
		},
		SimulateDelays: map[types.Model]time.Duration{
			types.ModelHaiku:  1 * time.Second,
			types.ModelSonnet: 2 * time.Second,
			types.ModelOpus:   3 * time.Second,
		},
		TaskTimeout:           60 * time.Minute,
		PollInterval:          5 * time.Second,
		ImplementationTimeout: 30 * time.Minute,
		CheckTimeout:          5 * time.Minute,
		CoverageThreshold:     80,
	}

	if dir, err := os.Getwd(); err == nil {
		cfg.ProjectDir = dir
	}

	// Environment overrides
	if v := os.Getenv("FOREMAN_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("FOREMAN_AGENT_PATH"); v != "" {
		cfg.AgentPath = v
	}
	if v := os.Getenv("FOREMAN_MAX_AGENTS"); v != "" {
		cfg.MaxConcurrentAgents = parseIntOrDefault(v, 5)
	}
	if v := os.Getenv("FOREMAN_DESIGN_MODEL"); v != "" {
		cfg.DesignModel = types.ParseModel(v)
	}
	if v := os.Getenv("FOREMAN_EXECUTE_MODEL"); v != "" {
		cfg.ExecuteModel = types.ParseModel(v)
	}
	if v := os.Getenv("FOREMAN_TIMEOUT_HAIKU"); v != "" {
		cfg.ModelTimeouts[types.ModelHaiku] = parseDurationOrDefault(v, 5*time.Minute)
	}
	if v := os.Getenv("FOREMAN_TIMEOUT_SONNET"); v != "" {
		cfg.ModelTimeouts[types.ModelSonnet] = parseDurationOrDefault(v, 10*time.Minute)
	}
	if v := os.Getenv("FOREMAN_TIMEOUT_OPUS"); v != "" {
		cfg.ModelTimeouts[types.ModelOpus] = parseDurationOrDefault(v, 15*time.Minute)
	}
	if v := os.Getenv("FOREMAN_TASK_TIMEOUT"); v != "" {
		cfg.TaskTimeout = parseDurationOrDefault(v, 60*time.Minute)
	}
	if v := os.Getenv("FOREMAN_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = parseDurationOrDefault(v, 5*time.Second)
	}
	if v := os.Getenv("FOREMAN_IMPLEMENTATION_TIMEOUT"); v != "" {
		cfg.ImplementationTimeout = parseDurationOrDefault(v, 30*time.Minute)
	}
	if v := os.Getenv("FOREMAN_CHECK_TIMEOUT"); v != "" {
		cfg.CheckTimeout = parseDurationOrDefault(v, 5*time.Minute)
	}
	if v := os.Getenv("FOREMAN_COVERAGE_THRESHOLD"); v != "" {
		cfg.CoverageThreshold = parseFloatOrDefault(v, 80)
	}
	if v := os.Getenv("FOREMAN_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}

	if cfg.MaxConcurrentAgents < 1 {
		return nil, fmt.Errorf("FOREMAN_MAX_AGENTS must be at least 1, got %d", cfg.MaxConcurrentAgents)
	}

	return cfg, nil
}

// TimeoutFor returns the agent timeout for a model tier
func (c *Config) TimeoutFor(m types.Model) time.Duration {
	if d, ok := c.ModelTimeouts[m]; ok && d > 0 {
		return d
	}
	return c.ModelTimeouts[types.ModelSonnet]
}

// defaultDatabasePath returns SQLite in project directory
func defaultDatabasePath() string {
	dir, err := os.Getwd()
	if err != nil {
		return filepath.Join(".foreman", "foreman.db")
	}
	return filepath.Join(dir, ".foreman", "foreman.db")
}

func parseIntOrDefault(s string, def int) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return def
	}
	return i
}

func parseFloatOrDefault(s string, def float64) float64 {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return def
	}
	return f
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
