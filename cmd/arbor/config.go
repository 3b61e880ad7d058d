package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/arbor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify arbor configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config.

The user config is stored at ~/.config/arbor/config.yaml.
Project-specific overrides can be placed in .arbor.yaml; ARBOR_* environment
variables override both.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			return setConfigKey(args[0], args[1])
		}
	},
}

// configKey reads and writes one dot-notation setting.
type configKey struct {
	get func(c *config.Config) string
	set func(c *config.Config, value string) error
}

var configKeys = map[string]configKey{
	"anthropic.api_key": {
		get: func(c *config.Config) string { return config.MaskAPIKey(c.Anthropic.APIKey) },
		set: func(c *config.Config, v string) error {
			if err := config.ValidateAPIKey(v); err != nil {
				return err
			}
			c.Anthropic.APIKey = v
			return nil
		},
	},
	"anthropic.model": {
		get: func(c *config.Config) string { return c.Anthropic.Model },
		set: func(c *config.Config, v string) error { c.Anthropic.Model = v; return nil },
	},
	"anthropic.use_bedrock": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.Anthropic.UseBedrock) },
		set: func(c *config.Config, v string) error { return parseBool(v, &c.Anthropic.UseBedrock) },
	},
	"anthropic.aws_region": {
		get: func(c *config.Config) string { return c.Anthropic.AWSRegion },
		set: func(c *config.Config, v string) error { c.Anthropic.AWSRegion = v; return nil },
	},
	"anthropic.aws_profile": {
		get: func(c *config.Config) string { return c.Anthropic.AWSProfile },
		set: func(c *config.Config, v string) error { c.Anthropic.AWSProfile = v; return nil },
	},
	"anthropic.max_tokens": {
		get: func(c *config.Config) string { return strconv.FormatInt(c.Anthropic.MaxTokens, 10) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value for max_tokens: %q", v)
			}
			c.Anthropic.MaxTokens = n
			return nil
		},
	},
	"executor.default_timeout": {
		get: func(c *config.Config) string { return c.Executor.DefaultTimeout.String() },
		set: func(c *config.Config, v string) error { return parseDuration(v, &c.Executor.DefaultTimeout) },
	},
	"executor.ceiling": {
		get: func(c *config.Config) string { return c.Executor.Ceiling.String() },
		set: func(c *config.Config, v string) error { return parseDuration(v, &c.Executor.Ceiling) },
	},
	"executor.max_output_bytes": {
		get: func(c *config.Config) string { return strconv.Itoa(c.Executor.MaxOutputBytes) },
		set: func(c *config.Config, v string) error { return parseInt(v, &c.Executor.MaxOutputBytes) },
	},
	"logging.level": {
		get: func(c *config.Config) string { return c.Logging.Level },
		set: func(c *config.Config, v string) error {
			switch v {
			case "debug", "info", "warn", "error":
				c.Logging.Level = v
				return nil
			}
			return fmt.Errorf("invalid log level %q (want debug, info, warn or error)", v)
		},
	},
	"logging.file": {
		get: func(c *config.Config) string { return c.Logging.File },
		set: func(c *config.Config, v string) error { c.Logging.File = v; return nil },
	},
	"tui.refresh_rate": {
		get: func(c *config.Config) string { return c.TUI.RefreshRate.String() },
		set: func(c *config.Config, v string) error { return parseDuration(v, &c.TUI.RefreshRate) },
	},
	"policy_file": {
		get: func(c *config.Config) string { return c.PolicyFile },
		set: func(c *config.Config, v string) error { c.PolicyFile = v; return nil },
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(c *config.Config) {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %s\n", k, configKeys[k].get(c))
	}
	fmt.Printf("\nuser config: %s\n", config.GetUserConfigPath())
	if path := config.GetProjectConfigPath(projectDir); path != "" {
		fmt.Printf("project config: %s\n", path)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(c *config.Config, key string) (string, error) {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return k.get(c), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(c *config.Config, key, value string) error {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return k.set(c, value)
}

// setConfigKey updates the user config only, so project and environment
// overrides are not written back.
func setConfigKey(key, value string) error {
	user, err := config.LoadFromPath(config.GetUserConfigPath())
	if err != nil {
		user = config.Default()
	}
	if err := setConfigValue(user, key, value); err != nil {
		return err
	}
	if err := config.Save(user); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if strings.ToLower(key) == "anthropic.api_key" {
		value = config.MaskAPIKey(value)
	}
	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

func parseDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", v, err)
	}
	*dst = d
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", v, err)
	}
	*dst = n
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean %q: %w", v, err)
	}
	*dst = b
	return nil
}
