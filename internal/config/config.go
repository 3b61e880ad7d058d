// Package config handles configuration loading and management for arbor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/arbor/internal/policy"
)

// ProjectConfigName is the project-level override file.
const ProjectConfigName = ".arbor.yaml"

// Config holds all configuration for arbor.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Context   ContextConfig   `mapstructure:"context"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	TUI       TUIConfig       `mapstructure:"tui"`
	// PolicyFile is a YAML policy overlay. Relative paths resolve against
	// the directory of the project config.
	PolicyFile string `mapstructure:"policy_file"`
	// ScratchDir is where Diagnostician workspaces are created.
	ScratchDir string `mapstructure:"scratch_dir"`

	// projectDir is the directory of the project config that was merged.
	projectDir string
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
}

// ExecutorConfig holds command sandbox limits.
type ExecutorConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	Ceiling        time.Duration `mapstructure:"ceiling"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// ContextConfig bounds what one turn may see.
type ContextConfig struct {
	MaxDocBytes   int `mapstructure:"max_doc_bytes"`
	MaxFileBytes  int `mapstructure:"max_file_bytes"`
	MaxTotalBytes int `mapstructure:"max_total_bytes"`
	RecentResults int `mapstructure:"recent_results"`
	ListingDepth  int `mapstructure:"listing_depth"`
}

// EngineConfig holds turn loop limits.
type EngineConfig struct {
	MaxReprompts          int  `mapstructure:"max_reprompts"`
	MaxOracleFailures     int  `mapstructure:"max_oracle_failures"`
	MaxTurns              int  `mapstructure:"max_turns"`
	VerifyDisjointScopes  bool `mapstructure:"verify_disjoint_scopes"`
	EscalateAfterTimeouts int  `mapstructure:"escalate_after_timeouts"`
	EventBuffer           int  `mapstructure:"event_buffer"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File is the log file, relative to the project root when not absolute.
	File string `mapstructure:"file"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration for the project containing the working directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return LoadProject(cwd)
}

// LoadProject loads configuration from XDG paths, the nearest project
// override at or above dir, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, ARBOR_*)
// 2. Project config (.arbor.yaml in dir or a parent)
// 3. User config (~/.config/arbor/config.yaml)
// 4. Built-in defaults
func LoadProject(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig(dir)
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if projectConfig != "" {
		cfg.projectDir = filepath.Dir(projectConfig)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file on top of defaults.
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
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.projectDir = filepath.Dir(path)
	return cfg, nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("executor.default_timeout", cfg.Executor.DefaultTimeout.String())
	v.Set("executor.ceiling", cfg.Executor.Ceiling.String())
	v.Set("executor.max_output_bytes", cfg.Executor.MaxOutputBytes)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.file", cfg.Logging.File)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	if cfg.PolicyFile != "" {
		v.Set("policy_file", cfg.PolicyFile)
	}

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the nearest project config at or above dir,
// or "" if there is none.
func GetProjectConfigPath(dir string) string {
	return findProjectConfig(dir)
}

// ToPolicy builds the engine policy: defaults, then the policy file, then
// the limits set in this config.
func (c *Config) ToPolicy() (*policy.Config, error) {
	p := policy.Default()
	if c.PolicyFile != "" {
		path := c.PolicyFile
		if !filepath.IsAbs(path) && c.projectDir != "" {
			path = filepath.Join(c.projectDir, path)
		}
		loaded, err := policy.LoadFile(path)
		if err != nil {
			return nil, err
		}
		p = loaded
	}

	if c.Executor.DefaultTimeout > 0 {
		p.Exec.DefaultTimeout = c.Executor.DefaultTimeout
	}
	if c.Executor.Ceiling > 0 {
		p.Exec.Ceiling = c.Executor.Ceiling
	}
	if c.Executor.MaxOutputBytes > 0 {
		p.Exec.MaxOutputBytes = c.Executor.MaxOutputBytes
	}

	overlay(&p.Context.MaxDocBytes, c.Context.MaxDocBytes)
	overlay(&p.Context.MaxFileBytes, c.Context.MaxFileBytes)
	overlay(&p.Context.MaxTotalBytes, c.Context.MaxTotalBytes)
	overlay(&p.Context.RecentResults, c.Context.RecentResults)
	overlay(&p.Context.ListingDepth, c.Context.ListingDepth)

	overlay(&p.Engine.MaxReprompts, c.Engine.MaxReprompts)
	overlay(&p.Engine.MaxOracleFailures, c.Engine.MaxOracleFailures)
	overlay(&p.Engine.MaxTurns, c.Engine.MaxTurns)
	overlay(&p.Engine.EscalateAfterTimeouts, c.Engine.EscalateAfterTimeouts)
	overlay(&p.Engine.EventBuffer, c.Engine.EventBuffer)
	p.Engine.VerifyDisjointScopes = c.Engine.VerifyDisjointScopes

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func overlay(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)

	v.SetDefault("executor.default_timeout", d.Executor.DefaultTimeout.String())
	v.SetDefault("executor.ceiling", d.Executor.Ceiling.String())
	v.SetDefault("executor.max_output_bytes", d.Executor.MaxOutputBytes)

	v.SetDefault("context.max_doc_bytes", d.Context.MaxDocBytes)
	v.SetDefault("context.max_file_bytes", d.Context.MaxFileBytes)
	v.SetDefault("context.max_total_bytes", d.Context.MaxTotalBytes)
	v.SetDefault("context.recent_results", d.Context.RecentResults)
	v.SetDefault("context.listing_depth", d.Context.ListingDepth)

	v.SetDefault("engine.max_reprompts", d.Engine.MaxReprompts)
	v.SetDefault("engine.max_oracle_failures", d.Engine.MaxOracleFailures)
	v.SetDefault("engine.max_turns", d.Engine.MaxTurns)
	v.SetDefault("engine.verify_disjoint_scopes", d.Engine.VerifyDisjointScopes)
	v.SetDefault("engine.escalate_after_timeouts", d.Engine.EscalateAfterTimeouts)
	v.SetDefault("engine.event_buffer", d.Engine.EventBuffer)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
	v.SetDefault("policy_file", "")
	v.SetDefault("scratch_dir", "")
}

// bindEnv maps ARBOR_SECTION_KEY variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ARBOR_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
}

// getUserConfigDir returns the XDG config directory for arbor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "arbor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "arbor")
	}
	return filepath.Join(home, ".config", "arbor")
}

// findProjectConfig searches for .arbor.yaml in dir and its parents.
func findProjectConfig(dir string) string {
	if dir == "" {
		return ""
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	p := policy.Default()
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Executor: ExecutorConfig{
			DefaultTimeout: p.Exec.DefaultTimeout,
			Ceiling:        p.Exec.Ceiling,
			MaxOutputBytes: p.Exec.MaxOutputBytes,
		},
		Context: ContextConfig{
			MaxDocBytes:   p.Context.MaxDocBytes,
			MaxFileBytes:  p.Context.MaxFileBytes,
			MaxTotalBytes: p.Context.MaxTotalBytes,
			RecentResults: p.Context.RecentResults,
			ListingDepth:  p.Context.ListingDepth,
		},
		Engine: EngineConfig{
			MaxReprompts:          p.Engine.MaxReprompts,
			MaxOracleFailures:     p.Engine.MaxOracleFailures,
			MaxTurns:              p.Engine.MaxTurns,
			VerifyDisjointScopes:  p.Engine.VerifyDisjointScopes,
			EscalateAfterTimeouts: p.Engine.EscalateAfterTimeouts,
			EventBuffer:           p.Engine.EventBuffer,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(".arbor", "logs", "arbor.log"),
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}

// ProjectTemplate is written by arbor init.
const ProjectTemplate = `# arbor project configuration.
# Values here override ~/.config/arbor/config.yaml; ARBOR_* variables override both.

anthropic:
  model: claude-sonnet-4-20250514
  # use_bedrock: true
  # aws_region: us-east-1

executor:
  default_timeout: 60s
  ceiling: 110s

engine:
  max_reprompts: 5
  verify_disjoint_scopes: true

logging:
  level: info

# policy_file: .arbor/policy.yaml
`

// WriteProjectTemplate writes ProjectTemplate to dir unless a project config
// already exists there. It reports whether the file was created.
func WriteProjectTemplate(dir string) (string, bool, error) {
	path := filepath.Join(dir, ProjectConfigName)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.WriteFile(path, []byte(ProjectTemplate), 0644); err != nil {
		return "", false, fmt.Errorf("write project config: %w", err)
	}
	return path, true, nil
}
