// Package config provides unified configuration loading for ecsrepl.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/ecsrepl/internal/store"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config contains all ecsrepl configuration settings.
type Config struct {
	// Store selects the EntityStore implementation.
	Store StoreConfig `json:"store" yaml:"store"`

	// REPL contains interpreter settings.
	REPL REPLConfig `json:"repl" yaml:"repl"`

	// Logging contains settings for operational logging and the change journal.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Backend is "memory" (default) or "sqlite". Both keep all data in memory.
	Backend string `json:"backend" yaml:"backend"`
}

// REPLConfig configures the line interpreter.
type REPLConfig struct {
	// Relation is the relation set-relation, tree and dump operate on.
	Relation string `json:"relation" yaml:"relation"`

	// Prompt is printed before each line when stdin is a terminal.
	Prompt string `json:"prompt" yaml:"prompt"`

	// Deferred queues mutations and applies them at the next tick, dump,
	// tree, list, get or quit.
	Deferred bool `json:"deferred" yaml:"deferred"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the change journal.
	Level string `json:"level" yaml:"level"`

	// JournalDir holds journal.jsonl. Empty means ~/.ecsrepl.
	JournalDir string `json:"journal_dir,omitempty" yaml:"journal_dir,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		REPL: REPLConfig{
			Relation: "child",
			Prompt:   "> ",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns the ecsrepl home directory, ~/.ecsrepl.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ecsrepl"), nil
}

// DefaultPath returns ~/.ecsrepl/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from path, or from ~/.ecsrepl/config.yaml when
// path is empty, then applies environment variables.
// Order: defaults -> config file -> environment variables.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Logging.JournalDir = expandEnvVars(config.Logging.JournalDir)

	return config, nil
}

// Save writes the configuration to path as YAML, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("invalid backend: %s (valid: memory, sqlite)", c.Store.Backend)
	}

	if err := store.ValidateName(c.REPL.Relation); err != nil {
		return fmt.Errorf("invalid relation: %w", err)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// Keys lists the dot-notation keys accepted by Get and Set.
func Keys() []string {
	return []string{
		"store.backend",
		"repl.relation",
		"repl.prompt",
		"repl.deferred",
		"logging.level",
		"logging.journal_dir",
	}
}

// Get retrieves a configuration value by dot-notation key.
func (c *Config) Get(key string) (any, bool) {
	switch key {
	case "store.backend":
		return c.Store.Backend, true
	case "repl.relation":
		return c.REPL.Relation, true
	case "repl.prompt":
		return c.REPL.Prompt, true
	case "repl.deferred":
		return c.REPL.Deferred, true
	case "logging.level":
		return c.Logging.Level, true
	case "logging.journal_dir":
		return c.Logging.JournalDir, true
	default:
		return nil, false
	}
}

// Set sets a configuration value by dot-notation key and re-validates.
func (c *Config) Set(key, value string) error {
	next := *c
	switch key {
	case "store.backend":
		next.Store.Backend = value
	case "repl.relation":
		next.REPL.Relation = value
	case "repl.prompt":
		next.REPL.Prompt = value
	case "repl.deferred":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		next.REPL.Deferred = b
	case "logging.level":
		next.Logging.Level = value
	case "logging.journal_dir":
		next.Logging.JournalDir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ECSREPL_BACKEND"); v != "" {
		config.Store.Backend = v
	}

	if v := os.Getenv("ECSREPL_RELATION"); v != "" {
		config.REPL.Relation = v
	}

	if v := os.Getenv("ECSREPL_PROMPT"); v != "" {
		config.REPL.Prompt = v
	}

	if v := os.Getenv("ECSREPL_DEFERRED"); v != "" {
		config.REPL.Deferred = v == "true" || v == "1"
	}

	if v := os.Getenv("ECSREPL_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("ECSREPL_JOURNAL_DIR"); v != "" {
		config.Logging.JournalDir = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
