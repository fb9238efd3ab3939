package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/planion/planion/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Planion configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/planion/config.yaml
Project-specific overrides can be placed in .planion.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values and the files they come
// from.
func displayAllConfig(cfg *config.Config) {
	dbPathDisplay := cfg.Store.DBPath
	if dbPathDisplay == "" {
		dbPathDisplay = "(default)"
	}
	inboxDisplay := cfg.Inbox.Dir
	if inboxDisplay == "" {
		inboxDisplay = "(disabled)"
	}

	fmt.Printf("store.db_path: %s\n", dbPathDisplay)
	fmt.Printf("planner.max_specialists: %d\n", cfg.Planner.MaxSpecialists)
	fmt.Printf("planner.max_review_retries: %d\n", cfg.Planner.MaxReviewRetries)
	fmt.Printf("planner.poll_interval: %s\n", cfg.Planner.PollInterval)
	fmt.Printf("inbox.dir: %s\n", inboxDisplay)
	for id, argv := range cfg.Specialists.Commands {
		fmt.Printf("specialists.commands.%s: %s\n", id, strings.Join(argv, " "))
	}

	fmt.Printf("\nuser config: %s\n", config.GetUserConfigPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("project config: %s\n", project)
	}
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "store.db_path":
		if cfg.Store.DBPath == "" {
			return "(default)", nil
		}
		return cfg.Store.DBPath, nil
	case "planner.max_specialists":
		return strconv.Itoa(cfg.Planner.MaxSpecialists), nil
	case "planner.max_review_retries":
		return strconv.Itoa(cfg.Planner.MaxReviewRetries), nil
	case "planner.poll_interval":
		return cfg.Planner.PollInterval.String(), nil
	case "inbox.dir":
		if cfg.Inbox.Dir == "" {
			return "(disabled)", nil
		}
		return cfg.Inbox.Dir, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "store.db_path":
		cfg.Store.DBPath = value
	case "planner.max_specialists":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_specialists: %w", err)
		}
		cfg.Planner.MaxSpecialists = n
	case "planner.max_review_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_review_retries: %w", err)
		}
		cfg.Planner.MaxReviewRetries = n
	case "planner.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll_interval: %w", err)
		}
		cfg.Planner.PollInterval = d
	case "inbox.dir":
		cfg.Inbox.Dir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
