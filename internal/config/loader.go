// Package config loads layered taskforge configuration: built-in defaults,
// then the global file, then the project file, then TASKFORGE_* variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aristath/taskforge/internal/backend"
	"github.com/aristath/taskforge/internal/permission"
)

// EnvPrefix prefixes environment overrides, e.g. TASKFORGE_RUNNER_CONCURRENCY.
const EnvPrefix = "TASKFORGE"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed YAML
// returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeConfigFile(v, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.Agents == nil {
		cfg.Agents = map[string]AgentConfig{}
	}
	for name, p := range cfg.Providers {
		p.APIKey = os.ExpandEnv(p.APIKey)
		cfg.Providers[name] = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns ~/.taskforge/config.yaml.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".taskforge", "config.yaml"), nil
}

// ProjectPath returns .taskforge/config.yaml under dir.
func ProjectPath(dir string) string {
	return filepath.Join(dir, ".taskforge", "config.yaml")
}

// LoadDefault loads .env from dir if present, then configuration from the
// conventional paths.
func LoadDefault(dir string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath(dir))
}

// LoadDotEnv sets variables from a dotenv file without overriding ones
// already in the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// mergeConfigFile merges a YAML file into v.
// Missing files are silently skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks cross references and enumerated values.
func (c *Config) Validate() error {
	var errs []error

	if _, err := permission.ParseMode(c.Permissions.Mode); err != nil {
		errs = append(errs, err)
	}
	for name, p := range c.Providers {
		if !slices.Contains(backend.Types, p.Type) {
			errs = append(errs, fmt.Errorf("provider %s: unknown type %q", name, p.Type))
		}
	}
	if _, ok := c.Providers[c.Runner.Provider]; !ok {
		errs = append(errs, fmt.Errorf("runner.provider: unknown provider %q", c.Runner.Provider))
	}
	for name, a := range c.Agents {
		if a.Provider != "" {
			if _, ok := c.Providers[a.Provider]; !ok {
				errs = append(errs, fmt.Errorf("agent %s: unknown provider %q", name, a.Provider))
			}
		}
		if _, err := permission.ParseSet(a.Permissions); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", name, err))
		}
		if a.TimeoutMax > 0 && a.Timeout > a.TimeoutMax {
			errs = append(errs, fmt.Errorf("agent %s: timeout %s exceeds timeout_max %s", name, a.Timeout, a.TimeoutMax))
		}
	}
	if c.Runner.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("runner.concurrency must be positive, got %d", c.Runner.Concurrency))
	}
	if c.Prompt.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("prompt.token_budget must be positive, got %d", c.Prompt.TokenBudget))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
