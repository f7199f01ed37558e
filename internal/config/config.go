// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the complete driftline configuration.
type Config struct {
	ChatService ChatServiceConfig `toml:"chat_service"`
	Assistant   AssistantConfig   `toml:"assistant"`
	LLM         LLMConfig         `toml:"llm"`
}

// ChatServiceConfig holds the OAuth application credentials used to
// authenticate against the chat service.
type ChatServiceConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectPort int    `toml:"redirect_port"`
}

// AssistantConfig controls whether and how the local assistant gateway
// process is spawned.
type AssistantConfig struct {
	BinaryPath     string `toml:"binary_path"`
	GatewayPort    int    `toml:"gateway_port"`
	AutoStart      bool   `toml:"auto_start"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLMConfig holds the provider and credential the assistant gateway
// uses once paired.
type LLMConfig struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
}

// defaultRedirectPort, defaultGatewayPort, and defaultTimeoutSeconds are
// applied before validation whenever a config file omits them.
const (
	defaultRedirectPort   = 3000
	defaultGatewayPort    = 8080
	defaultTimeoutSeconds = 30
)

// Default returns a Config populated with built-in defaults and no
// credentials.
func Default() *Config {
	return &Config{
		ChatService: ChatServiceConfig{RedirectPort: defaultRedirectPort},
		Assistant: AssistantConfig{
			GatewayPort:    defaultGatewayPort,
			TimeoutSeconds: defaultTimeoutSeconds,
		},
	}
}

// ConfigDir returns the directory driftline stores its config and
// session files in: ~/.driftline.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".driftline"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. If path is empty, the default
// location (~/.driftline/config.toml) is used; a missing file at the
// default location yields defaults rather than an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		defaultPath, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
		if _, statErr := os.Stat(path); statErr != nil {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid config: %w", err)
			}
			return cfg, nil
		}
	}

	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	cfg.setDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults fills in zero-valued fields that have a documented
// default, without overwriting anything explicitly set in the file.
func (c *Config) setDefaults() {
	if c.ChatService.RedirectPort == 0 {
		c.ChatService.RedirectPort = defaultRedirectPort
	}
	if c.Assistant.GatewayPort == 0 {
		c.Assistant.GatewayPort = defaultGatewayPort
	}
	if c.Assistant.TimeoutSeconds == 0 {
		c.Assistant.TimeoutSeconds = defaultTimeoutSeconds
	}
}

// applyEnvOverrides lets deployment secrets be supplied without being
// persisted in the config file alongside non-secret settings.
//
// Recognized variables:
//   - DRIFTLINE_CLIENT_SECRET overrides chat_service.client_secret
//   - DRIFTLINE_LLM_API_KEY overrides llm.api_key
func (c *Config) applyEnvOverrides() {
	if secret := os.Getenv("DRIFTLINE_CLIENT_SECRET"); secret != "" {
		c.ChatService.ClientSecret = secret
	}
	if key := os.Getenv("DRIFTLINE_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
}

// ensureSecurePermissions fixes an overly permissive config file's mode
// in place; config files carry secrets and should be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// ValidationError names the offending field and the reason it failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every ValidationError found by Validate.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the config for internally-inconsistent or
// out-of-range values. It does not require credentials to be present,
// since onboarding populates them interactively.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.ChatService.RedirectPort <= 0 || c.ChatService.RedirectPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "chat_service.redirect_port",
			Message: fmt.Sprintf("must be a valid TCP port, got %d", c.ChatService.RedirectPort),
		})
	}

	if c.Assistant.GatewayPort <= 0 || c.Assistant.GatewayPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "assistant.gateway_port",
			Message: fmt.Sprintf("must be a valid TCP port, got %d", c.Assistant.GatewayPort),
		})
	}

	if c.Assistant.TimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "assistant.timeout_seconds",
			Message: fmt.Sprintf("must be positive, got %d", c.Assistant.TimeoutSeconds),
		})
	}

	if c.Assistant.AutoStart && c.Assistant.BinaryPath == "" {
		errs = append(errs, ValidationError{
			Field:   "assistant.binary_path",
			Message: "required when assistant.auto_start is true",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Save writes cfg to path as TOML with 0600 permissions. If path is
// empty, the default location is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		defaultPath, err := ConfigPath()
		if err != nil {
			return err
		}
		path = defaultPath
	}

	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
