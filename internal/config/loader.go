package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = ".impls.yaml"
	// UserConfigDir is the directory for user-level config, under $HOME.
	UserConfigDir = ".config/impls"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger

	// UserConfigPath is the user-level file. NewLoader points it at
	// ~/.config/impls/config.yaml; empty disables the user layer.
	UserConfigPath string
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	if home, err := os.UserHomeDir(); err == nil {
		l.UserConfigPath = filepath.Join(home, UserConfigDir, UserConfigFile)
	}
	return l
}

// Load builds the configuration for a checkout containing dir:
//  1. Defaults
//  2. User config (~/.config/impls/config.yaml)
//  3. Project config (.impls.yaml in dir or a parent, up to the git root)
func (l *Loader) Load(dir string) (*Config, error) {
	config := DefaultConfig()

	if l.UserConfigPath != "" {
		if user, err := loadLayer(l.UserConfigPath); err == nil {
			l.logger.Debug("loaded user config", slog.String("path", l.UserConfigPath))
			config.Merge(user)
		} else if !os.IsNotExist(err) {
			l.logger.Warn("failed to load user config", slog.String("path", l.UserConfigPath), slog.String("error", err.Error()))
		}
	}

	if projectPath := FindProjectConfig(dir); projectPath != "" {
		project, err := loadLayer(projectPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded project config", slog.String("path", projectPath))
		config.Merge(project)
	} else {
		l.logger.Debug("no project config found", slog.String("dir", dir))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// loadLayer reads one layer without defaults so that Merge only applies the
// keys the file sets.
func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &c, nil
}

// FindProjectConfig searches dir and its parents for .impls.yaml, stopping
// after the first directory that contains .git. Returns "" if none exists.
func FindProjectConfig(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for d := abs; ; {
		candidate := filepath.Join(d, ProjectConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if _, err := os.Stat(filepath.Join(d, ".git")); err == nil {
			return ""
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}
