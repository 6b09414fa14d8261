// Package config loads the two configuration layers: the tool
// configuration in .anvil/config.yaml (logging, timeouts, external tool
// argv, history retention) and the per-project build definition in
// anvil.yaml (folders, configurations, phases).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// HistoryConfig represents build history storage configuration
type HistoryConfig struct {
	// Enabled enables recording builds into the history database
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the history database
	DBPath string `yaml:"db_path"`

	// KeepBuildsDays is the number of days to keep build history
	KeepBuildsDays int `yaml:"keep_builds_days"`

	// MaxBuilds is the maximum number of builds to keep
	MaxBuilds int `yaml:"max_builds"`
}

// ToolsConfig carries the argv prefixes for the external tools phases
// invoke.
type ToolsConfig struct {
	// SolutionBuild is the command that builds a solution file; the
	// solution path is appended at run time.
	SolutionBuild []string `yaml:"solution_build"`

	// StyleCop is the command that runs style analysis; report, settings
	// and source file arguments are appended at run time.
	StyleCop []string `yaml:"stylecop"`
}

// Config represents anvil tool configuration options
type Config struct {
	// Timeout is the maximum execution time for a whole build (0 = unlimited)
	Timeout time.Duration `yaml:"timeout"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`

	// Quiet suppresses unclassified passthrough output
	Quiet bool `yaml:"quiet"`

	// Tools configures the external tool invocations
	Tools ToolsConfig `yaml:"tools"`

	// History contains build history storage configuration
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Timeout:  time.Hour,
		LogLevel: "info",
		LogDir:   ".anvil/logs",
		Quiet:    false,
		Tools: ToolsConfig{
			SolutionBuild: []string{"xbuild", "/nologo", "/verbosity:quiet"},
			StyleCop:      []string{"StyleCopCmd"},
		},
		History: HistoryConfig{
			Enabled:        true,
			DBPath:         ".anvil/history.db",
			KeepBuildsDays: 90,
			MaxBuilds:      500,
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, return defaults (not an error)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Use a temporary struct to handle duration parsing
	type yamlConfig struct {
		Timeout  string        `yaml:"timeout"`
		LogLevel string        `yaml:"log_level"`
		LogDir   string        `yaml:"log_dir"`
		Quiet    bool          `yaml:"quiet"`
		Tools    ToolsConfig   `yaml:"tools"`
		History  HistoryConfig `yaml:"history"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if yamlCfg.Timeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", yamlCfg.Timeout, err)
		}
		cfg.Timeout = timeout
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.Quiet {
		cfg.Quiet = yamlCfg.Quiet
	}
	if len(yamlCfg.Tools.SolutionBuild) > 0 {
		cfg.Tools.SolutionBuild = yamlCfg.Tools.SolutionBuild
	}
	if len(yamlCfg.Tools.StyleCop) > 0 {
		cfg.Tools.StyleCop = yamlCfg.Tools.StyleCop
	}

	// Merge the history section field by field so an explicit false for
	// enabled is not mistaken for an omitted key.
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if historySection, exists := rawMap["history"]; exists && historySection != nil {
			history := yamlCfg.History
			historyMap, _ := historySection.(map[string]interface{})

			if _, exists := historyMap["enabled"]; exists {
				cfg.History.Enabled = history.Enabled
			}
			if _, exists := historyMap["db_path"]; exists {
				cfg.History.DBPath = history.DBPath
			}
			if _, exists := historyMap["keep_builds_days"]; exists {
				cfg.History.KeepBuildsDays = history.KeepBuildsDays
			}
			if _, exists := historyMap["max_builds"]; exists {
				cfg.History.MaxBuilds = history.MaxBuilds
			}
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .anvil/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".anvil", "config.yaml")
	return LoadConfig(configPath)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(timeout *time.Duration, logLevel *string, logDir *string, quiet *bool) {
	if timeout != nil {
		c.Timeout = *timeout
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if quiet != nil {
		c.Quiet = *quiet
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	// Timeout can be 0 (no timeout) or positive, negative is invalid
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}

	if len(c.Tools.SolutionBuild) == 0 {
		return fmt.Errorf("tools.solution_build cannot be empty")
	}
	if len(c.Tools.StyleCop) == 0 {
		return fmt.Errorf("tools.stylecop cannot be empty")
	}

	if c.History.Enabled {
		if c.History.DBPath == "" {
			return fmt.Errorf("history.db_path cannot be empty when history is enabled")
		}
		if c.History.KeepBuildsDays < 0 {
			return fmt.Errorf("history.keep_builds_days must be >= 0, got %d", c.History.KeepBuildsDays)
		}
		if c.History.MaxBuilds < 0 {
			return fmt.Errorf("history.max_builds must be >= 0, got %d", c.History.MaxBuilds)
		}
	}

	return nil
}
