package config

import (
	"time"

	"github.com/aristath/taskforge/internal/telemetry"
)

// ProviderConfig defines an upstream model provider.
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	// Type matches backend.Config.Type: "anthropic" or "claude".
	Type string `mapstructure:"type" yaml:"type"`
	// Command is the CLI binary for subprocess providers.
	Command string `mapstructure:"command" yaml:"command,omitempty"`
	Model   string `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	// APIKey may hold ${VAR} references; they are expanded on load.
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	MaxTokens int64  `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// AgentConfig overrides the built-in capability of an agent type, or defines
// a new one. Zero fields keep the built-in value.
type AgentConfig struct {
	// Provider is a key into Providers; empty uses Runner.Provider.
	Provider    string        `mapstructure:"provider" yaml:"provider,omitempty"`
	Model       string        `mapstructure:"model" yaml:"model,omitempty"`
	Persona     string        `mapstructure:"persona" yaml:"persona,omitempty"`
	Tools       []string      `mapstructure:"tools" yaml:"tools,omitempty"`
	Permissions []string      `mapstructure:"permissions" yaml:"permissions,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	TimeoutMax  time.Duration `mapstructure:"timeout_max" yaml:"timeout_max,omitempty"`
	MaxTurns    int           `mapstructure:"max_turns" yaml:"max_turns,omitempty"`
}

// PermissionsConfig selects how the permission gate answers.
type PermissionsConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"` // auto, suggest, ask
}

// RetryConfig mirrors resilience.Policy.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// BreakerConfig mirrors resilience.BreakerConfig.
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold" yaml:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// PromptConfig controls prompt assembly.
type PromptConfig struct {
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget"`
}

// RunnerConfig controls task dispatch.
type RunnerConfig struct {
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	Provider    string `mapstructure:"provider" yaml:"provider"` // Default provider for agents
}

// ToolsConfig tunes the builtin tools.
type ToolsConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	MaxFetchBytes  int64         `mapstructure:"max_fetch_bytes" yaml:"max_fetch_bytes"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // Empty disables run history
}

// Config is the top-level configuration.
type Config struct {
	Providers   map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Agents      map[string]AgentConfig    `mapstructure:"agents" yaml:"agents,omitempty"`
	Permissions PermissionsConfig         `mapstructure:"permissions" yaml:"permissions"`
	Retry       RetryConfig               `mapstructure:"retry" yaml:"retry"`
	Breaker     BreakerConfig             `mapstructure:"breaker" yaml:"breaker"`
	Prompt      PromptConfig              `mapstructure:"prompt" yaml:"prompt"`
	Runner      RunnerConfig              `mapstructure:"runner" yaml:"runner"`
	Tools       ToolsConfig               `mapstructure:"tools" yaml:"tools"`
	Logging     LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Telemetry   telemetry.Config          `mapstructure:"telemetry" yaml:"telemetry"`
	Store       StoreConfig               `mapstructure:"store" yaml:"store"`
}
