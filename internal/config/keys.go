package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNoAPIKey is returned when no Anthropic key is available.
	ErrNoAPIKey = errors.New("no Anthropic API key configured")
	// ErrInvalidAPIKey is wrapped by ValidateAPIKey.
	ErrInvalidAPIKey = errors.New("invalid API key format")
)

const (
	keyPrefix    = "sk-ant-"
	minKeyLength = 20
)

// apiKeyEnv lists the environment variables checked for a key, in order.
var apiKeyEnv = []string{"ARBOR_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"}

// KeySource says where the oracle's credentials come from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

// resolveKey finds the key and its source. The environment wins over the
// config file; a config value may reference a variable as ${NAME}.
func resolveKey(cfg *Config) (string, KeySource) {
	for _, name := range apiKeyEnv {
		if key := os.Getenv(name); key != "" {
			return key, KeySourceEnv
		}
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig
		}
	}
	return "", KeySourceNone
}

// GetAPIKey returns the Anthropic API key or ErrNoAPIKey.
func GetAPIKey(cfg *Config) (string, error) {
	key, _ := resolveKey(cfg)
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// NeedsAPIKey reports whether the oracle needs a direct API key. Bedrock
// authenticates through the AWS credential chain instead.
func NeedsAPIKey(cfg *Config) bool {
	return cfg == nil || !cfg.Anthropic.UseBedrock
}

// GetAPIKeySource reports where credentials would be taken from.
func GetAPIKeySource(cfg *Config) KeySource {
	if !NeedsAPIKey(cfg) {
		return KeySourceBedrock
	}
	_, source := resolveKey(cfg)
	return source
}

// ValidateAPIKey checks the shape of key. It does not contact Anthropic.
func ValidateAPIKey(key string) error {
	switch {
	case key == "":
		return ErrNoAPIKey
	case !strings.HasPrefix(key, keyPrefix):
		return fmt.Errorf("%w: expected %q prefix", ErrInvalidAPIKey, keyPrefix)
	case len(key) < minKeyLength:
		return fmt.Errorf("%w: key too short", ErrInvalidAPIKey)
	}
	return nil
}

// MaskAPIKey keeps the prefix and last four characters of key for display.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	}
	return key[:len(keyPrefix)] + "..." + key[len(key)-4:]
}
