package config

import (
	"fmt"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/backend"
	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/resilience"
)

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() resilience.Policy {
	return resilience.Policy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
	}
}

// BreakerSettings returns the configured circuit breaker settings.
func (c *Config) BreakerSettings() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Threshold: c.Breaker.Threshold,
		Cooldown:  c.Breaker.Cooldown,
	}
}

// PermissionMode returns the parsed gate mode.
func (c *Config) PermissionMode() (permission.Mode, error) {
	return permission.ParseMode(c.Permissions.Mode)
}

// ApplyAgents layers agent overrides onto reg. Unknown agent names define new
// agent types starting from an empty capability.
func (c *Config) ApplyAgents(reg *agents.Registry) error {
	for name, a := range c.Agents {
		capability, err := reg.Lookup(name)
		if err != nil {
			capability = agents.Capability{}
		}

		if a.Persona != "" {
			capability.Persona = a.Persona
		}
		if a.Tools != nil {
			capability.AllowedTools = a.Tools
		}
		if a.Permissions != nil {
			perms, err := permission.ParseSet(a.Permissions)
			if err != nil {
				return fmt.Errorf("agent %s: %w", name, err)
			}
			capability.Permissions = perms
		}
		if a.Timeout > 0 {
			capability.TimeoutDefault = a.Timeout
		}
		if a.TimeoutMax > 0 {
			capability.TimeoutMax = a.TimeoutMax
		}
		if a.MaxTurns > 0 {
			capability.MaxTurns = a.MaxTurns
		}
		reg.Register(agents.Type(name), capability)
	}
	return nil
}

// BackendConfigs returns one backend config per configured agent plus the
// fallback under the "" key, as expected by the runner.
func (c *Config) BackendConfigs(workDir string) (map[string]backend.Config, error) {
	fallback, err := c.backendConfig(c.Runner.Provider, "", workDir)
	if err != nil {
		return nil, err
	}

	configs := map[string]backend.Config{"": fallback}
	for name, a := range c.Agents {
		provider := a.Provider
		if provider == "" {
			provider = c.Runner.Provider
		}
		cfg, err := c.backendConfig(provider, a.Model, workDir)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		configs[name] = cfg
	}
	return configs, nil
}

func (c *Config) backendConfig(provider, model, workDir string) (backend.Config, error) {
	p, ok := c.Providers[provider]
	if !ok {
		return backend.Config{}, fmt.Errorf("unknown provider %q", provider)
	}
	if model == "" {
		model = p.Model
	}
	return backend.Config{
		Type:      p.Type,
		WorkDir:   workDir,
		Model:     model,
		MaxTokens: p.MaxTokens,
		APIKey:    p.APIKey,
		BaseURL:   p.BaseURL,
		Command:   p.Command,
	}, nil
}
