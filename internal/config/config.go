package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models greenproof.yml.
type Config struct {
	Community struct {
		Name string `yaml:"name"`
	} `yaml:"community"`
	Leaderboard struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"leaderboard"`
	Recompute struct {
		LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
		Parallelism        int `yaml:"parallelism"`
	} `yaml:"recompute"`
	Auth struct {
		TokenTTLHours int `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
}

// LockTimeout is the bound on waiting for a per-user recompute slot.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Recompute.LockTimeoutSeconds) * time.Second
}

// TokenTTL is the lifetime of issued bearer tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Leaderboard.DefaultLimit <= 0 {
		return fmt.Errorf("config.leaderboard.default_limit must be positive")
	}
	if c.Leaderboard.MaxLimit < c.Leaderboard.DefaultLimit {
		return fmt.Errorf("config.leaderboard.max_limit must be >= default_limit")
	}
	if c.Recompute.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("config.recompute.lock_timeout_seconds must be positive")
	}
	if c.Recompute.Parallelism <= 0 {
		return fmt.Errorf("config.recompute.parallelism must be positive")
	}
	if c.Auth.TokenTTLHours <= 0 {
		return fmt.Errorf("config.auth.token_ttl_hours must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "greenproof.yml")
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `community:
  name: greenproof

leaderboard:
  default_limit: 50
  max_limit: 200

recompute:
  lock_timeout_seconds: 5
  parallelism: 4

auth:
  token_ttl_hours: 72
`
