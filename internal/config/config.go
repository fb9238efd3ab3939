// Package config handles configuration loading and management for Planion.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Planion.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Planner     PlannerConfig     `mapstructure:"planner"`
	Inbox       InboxConfig       `mapstructure:"inbox"`
	Specialists SpecialistsConfig `mapstructure:"specialists"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// DBPath is the SQLite database location. Empty means the XDG default.
	DBPath string `mapstructure:"db_path"`
}

// PlannerConfig holds plan manager settings.
type PlannerConfig struct {
	// MaxSpecialists bounds concurrent specialist invocations.
	MaxSpecialists int `mapstructure:"max_specialists"`
	// MaxReviewRetries is the number of review rejections tolerated before a
	// task escalates to blocked.
	MaxReviewRetries int `mapstructure:"max_review_retries"`
	// PollInterval is how often the dispatch loop re-checks for runnable work
	// in the absence of events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// InboxConfig holds task inbox settings.
type InboxConfig struct {
	// Dir is the watched drop directory for YAML task files. Empty disables
	// the inbox.
	Dir string `mapstructure:"dir"`
}

// SpecialistsConfig maps specialist ids to the commands that run them.
type SpecialistsConfig struct {
	// Commands maps a specialist id (coder, system-operator, researcher) to
	// the argv of the process implementing it.
	Commands map[string][]string `mapstructure:"commands"`
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables. Precedence (highest to lowest):
//  1. Environment variables (PLANION_*)
//  2. Project config (.planion.yaml in current directory or parent)
//  3. User config (~/.config/planion/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("PLANION")
	v.AutomaticEnv()
	v.BindEnv("store.db_path", "PLANION_DB_PATH")
	v.BindEnv("planner.max_specialists", "PLANION_MAX_SPECIALISTS")
	v.BindEnv("planner.max_review_retries", "PLANION_MAX_REVIEW_RETRIES")
	v.BindEnv("inbox.dir", "PLANION_INBOX_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Store.DBPath = os.ExpandEnv(cfg.Store.DBPath)
	cfg.Inbox.Dir = os.ExpandEnv(cfg.Inbox.Dir)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Store.DBPath = os.ExpandEnv(cfg.Store.DBPath)
	cfg.Inbox.Dir = os.ExpandEnv(cfg.Inbox.Dir)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("store.db_path", cfg.Store.DBPath)
	v.Set("planner.max_specialists", cfg.Planner.MaxSpecialists)
	v.Set("planner.max_review_retries", cfg.Planner.MaxReviewRetries)
	v.Set("planner.poll_interval", cfg.Planner.PollInterval.String())
	v.Set("inbox.dir", cfg.Inbox.Dir)
	v.Set("specialists.commands", cfg.Specialists.Commands)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.db_path", "")

	v.SetDefault("planner.max_specialists", 3)
	v.SetDefault("planner.max_review_retries", 3)
	v.SetDefault("planner.poll_interval", "5s")

	v.SetDefault("inbox.dir", "")

	v.SetDefault("specialists.commands", map[string][]string{})
}

// getUserConfigDir returns the XDG config directory for Planion.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "planion")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "planion")
	}
	return filepath.Join(home, ".config", "planion")
}

// findProjectConfig searches for .planion.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".planion.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Planner: PlannerConfig{
			MaxSpecialists:   3,
			MaxReviewRetries: 3,
			PollInterval:     5 * time.Second,
		},
		Specialists: SpecialistsConfig{
			Commands: map[string][]string{},
		},
	}
}
