// Package reposync engine configuration.
// This file contains the YAML configuration consumed by hosts that embed
// the engine: storage location, background cadence, and policy toggles.
package reposync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// NetworkPolicyMode selects the built-in background network policy.
type NetworkPolicyMode string

const (
	NetworkPolicyAlways NetworkPolicyMode = "always"
	NetworkPolicyNever  NetworkPolicyMode = "never"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the engine configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Background BackgroundConfig `yaml:"background"`
	Commits    CommitsConfig    `yaml:"commits"`
}

// PathsConfig configures local filesystem locations.
type PathsConfig struct {
	// BaseDir is where cloned repositories live. Defaults to the user
	// data directory.
	BaseDir string `yaml:"base_dir"`
}

// BackgroundConfig configures the recurring sync task.
type BackgroundConfig struct {
	Interval      Duration          `yaml:"interval"`
	NetworkPolicy NetworkPolicyMode `yaml:"network_policy"`
}

// CommitsConfig configures commit message policy.
type CommitsConfig struct {
	Conventional bool `yaml:"conventional"`
}

// LoadConfig reads and parses the configuration file, expands environment
// variables in path fields, applies defaults, and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandEnv() {
	c.Paths.BaseDir = os.ExpandEnv(c.Paths.BaseDir)
}

func (c *Config) applyDefaults() {
	if c.Paths.BaseDir == "" {
		c.Paths.BaseDir = filepath.Join(xdg.DataHome, "reposync")
	}
	if c.Background.Interval == 0 {
		c.Background.Interval = Duration(30 * time.Minute)
	}
	if c.Background.NetworkPolicy == "" {
		c.Background.NetworkPolicy = NetworkPolicyAlways
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Background.NetworkPolicy {
	case NetworkPolicyAlways, NetworkPolicyNever:
	default:
		return fmt.Errorf("unknown network policy %q", c.Background.NetworkPolicy)
	}
	if time.Duration(c.Background.Interval) < time.Minute {
		return fmt.Errorf("background interval %s is below the 1m minimum", time.Duration(c.Background.Interval))
	}
	return nil
}

// Policy returns the NetworkPolicy the configuration selects.
func (c *Config) Policy() NetworkPolicy {
	if c.Background.NetworkPolicy == NetworkPolicyNever {
		return DenyAll{}
	}
	return AllowAll{}
}
