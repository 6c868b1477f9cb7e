// Package config loads service configuration from an optional YAML or
// JSON5 file with environment-variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full configuration for both services.
type Config struct {
	Ops     OpsConfig     `yaml:"ops"`
	Chat    ChatConfig    `yaml:"chat"`
	Logging LoggingConfig `yaml:"logging"`
}

// OpsConfig configures the operations service.
type OpsConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// CommandTimeoutSeconds is the default execute_command timeout.
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
}

// ChatConfig configures the chat orchestrator.
type ChatConfig struct {
	Addr string `yaml:"addr"`

	// OpsURL is the operations service base URL.
	OpsURL string `yaml:"ops_url"`

	// ModelURL is the inference endpoint base URL.
	ModelURL string `yaml:"model_url"`

	// Model is the default model name when a request names none.
	Model string `yaml:"model"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	ToolTimeoutSeconds    int  `yaml:"tool_timeout_seconds"`
	ToolMaxRetries        int  `yaml:"tool_max_retries"`
	ToolRetryDelaySeconds int  `yaml:"tool_retry_delay_seconds"`
	MaxToolCallsPerTurn   int  `yaml:"max_tool_calls_per_turn"`
	ToolsEnabled          bool `yaml:"tools_enabled"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Ops: OpsConfig{
			Addr:                  ":8080",
			CommandTimeoutSeconds: 300,
		},
		Chat: ChatConfig{
			Addr:                  ":8081",
			OpsURL:                "http://localhost:8080",
			ModelURL:              "http://localhost:11434",
			Model:                 "llama3.2",
			Temperature:           0.7,
			MaxTokens:             2000,
			ToolTimeoutSeconds:    30,
			ToolMaxRetries:        3,
			ToolRetryDelaySeconds: 1,
			MaxToolCallsPerTurn:   5,
			ToolsEnabled:          true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the effective configuration: defaults, then the file at path
// (skipped when path is empty), then OPSRELAY_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		if err := decodeRawConfig(raw, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			f, convErr := strconv.ParseFloat(v, 64)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, convErr := strconv.ParseBool(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = b
		}
	}

	setString("OPSRELAY_OPS_ADDR", &c.Ops.Addr)
	setInt("OPSRELAY_COMMAND_TIMEOUT_SECONDS", &c.Ops.CommandTimeoutSeconds)

	setString("OPSRELAY_CHAT_ADDR", &c.Chat.Addr)
	setString("OPSRELAY_OPS_URL", &c.Chat.OpsURL)
	setString("OPSRELAY_MODEL_URL", &c.Chat.ModelURL)
	setString("OPSRELAY_MODEL", &c.Chat.Model)
	setFloat("OPSRELAY_TEMPERATURE", &c.Chat.Temperature)
	setInt("OPSRELAY_MAX_TOKENS", &c.Chat.MaxTokens)
	setInt("OPSRELAY_TOOL_TIMEOUT_SECONDS", &c.Chat.ToolTimeoutSeconds)
	setInt("OPSRELAY_TOOL_MAX_RETRIES", &c.Chat.ToolMaxRetries)
	setInt("OPSRELAY_TOOL_RETRY_DELAY_SECONDS", &c.Chat.ToolRetryDelaySeconds)
	setInt("OPSRELAY_MAX_TOOL_CALLS", &c.Chat.MaxToolCallsPerTurn)
	setBool("OPSRELAY_TOOLS_ENABLED", &c.Chat.ToolsEnabled)

	setString("OPSRELAY_LOG_LEVEL", &c.Logging.Level)
	setString("OPSRELAY_LOG_FORMAT", &c.Logging.Format)
	return err
}

func (c *Config) validate() error {
	if c.Ops.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("ops.command_timeout_seconds must be positive, got %d", c.Ops.CommandTimeoutSeconds)
	}
	if c.Chat.MaxToolCallsPerTurn <= 0 {
		return fmt.Errorf("chat.max_tool_calls_per_turn must be positive, got %d", c.Chat.MaxToolCallsPerTurn)
	}
	if c.Chat.ToolTimeoutSeconds <= 0 {
		return fmt.Errorf("chat.tool_timeout_seconds must be positive, got %d", c.Chat.ToolTimeoutSeconds)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("chat.temperature must be in [0, 2], got %g", c.Chat.Temperature)
	}
	return nil
}

// CommandTimeout returns the default execute_command timeout as a duration.
func (c *OpsConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// ToolTimeout returns the per-attempt tool call timeout as a duration.
func (c *ChatConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// ToolRetryDelay returns the fixed delay between tool call attempts.
func (c *ChatConfig) ToolRetryDelay() time.Duration {
	return time.Duration(c.ToolRetryDelaySeconds) * time.Second
}
