// Package config loads .impls.yaml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config is the complete impls configuration.
type Config struct {
	// DB is the index database path, relative to the repository root
	// unless absolute.
	DB string `yaml:"db"`
	// Include and Exclude are doublestar globs over repo-relative paths.
	// An empty Include means every .go file.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	// RulesDir holds *.risor rule scripts run after each check.
	RulesDir   string      `yaml:"rules_dir"`
	BuildFlags []string    `yaml:"build_flags"`
	Parallel   int         `yaml:"parallel"`
	Watch      WatchConfig `yaml:"watch"`
}

// WatchConfig configures `impls check --watch`.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DB:       filepath.Join(".impls", "index.db"),
		Exclude:  []string{"vendor/**", "**/testdata/**"},
		RulesDir: filepath.Join(".impls", "rules"),
		Parallel: 0, // runtime.NumCPU()
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("db is required")
	}
	if c.Parallel < 0 {
		return fmt.Errorf("parallel must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	for _, g := range append(append([]string{}, c.Include...), c.Exclude...) {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid glob %q", g)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return config, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one. Non-zero values in other win.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.DB != "" {
		c.DB = other.DB
	}
	if other.Include != nil {
		c.Include = other.Include
	}
	if other.Exclude != nil {
		c.Exclude = other.Exclude
	}
	if other.RulesDir != "" {
		c.RulesDir = other.RulesDir
	}
	if other.BuildFlags != nil {
		c.BuildFlags = other.BuildFlags
	}
	if other.Parallel != 0 {
		c.Parallel = other.Parallel
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
}

// Resolve returns p relative to root unless it is already absolute.
func Resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
