package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/aristath/taskforge/internal/telemetry"
)

// DefaultConfig returns the default configuration with the built-in providers.
// Agents default to the capabilities compiled into the agents package.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Type:      "anthropic",
				APIKey:    "${ANTHROPIC_API_KEY}",
				MaxTokens: 8192,
			},
			"claude": {
				Type:    "claude",
				Command: "claude",
			},
		},
		Agents:      map[string]AgentConfig{},
		Permissions: PermissionsConfig{Mode: "ask"},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   60 * time.Second,
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  30 * time.Second,
		},
		Prompt: PromptConfig{TokenBudget: 8000},
		Runner: RunnerConfig{Concurrency: 4, Provider: "anthropic"},
		Tools: ToolsConfig{
			CommandTimeout: 2 * time.Minute,
			FetchTimeout:   30 * time.Second,
			MaxFetchBytes:  512 * 1024,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Telemetry: telemetry.Config{
			ServiceName:  "taskforge",
			OTLPEndpoint: "http://127.0.0.1:4318",
		},
		Store: StoreConfig{Path: ".taskforge/history.db"},
	}
}

// setDefaults registers every default with v so that layered files and
// TASKFORGE_* variables only need to name what they change.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	providers := make(map[string]any, len(d.Providers))
	for name, p := range d.Providers {
		providers[name] = map[string]any{
			"type":       p.Type,
			"command":    p.Command,
			"model":      p.Model,
			"base_url":   p.BaseURL,
			"api_key":    p.APIKey,
			"max_tokens": p.MaxTokens,
		}
	}
	v.SetDefault("providers", providers)

	v.SetDefault("permissions.mode", d.Permissions.Mode)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)

	v.SetDefault("breaker.threshold", d.Breaker.Threshold)
	v.SetDefault("breaker.cooldown", d.Breaker.Cooldown)

	v.SetDefault("prompt.token_budget", d.Prompt.TokenBudget)

	v.SetDefault("runner.concurrency", d.Runner.Concurrency)
	v.SetDefault("runner.provider", d.Runner.Provider)

	v.SetDefault("tools.command_timeout", d.Tools.CommandTimeout)
	v.SetDefault("tools.fetch_timeout", d.Tools.FetchTimeout)
	v.SetDefault("tools.max_fetch_bytes", d.Tools.MaxFetchBytes)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.service_version", d.Telemetry.ServiceVersion)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)

	v.SetDefault("store.path", d.Store.Path)
}
