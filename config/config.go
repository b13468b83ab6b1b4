// Package config loads the agent / layer configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mapping pins the client's container-rooted view onto a host path
type Mapping struct {
	// ContainerRoot is the root of the path namespace the client sees
	ContainerRoot string `yaml:"container_root"`
	// HostPath is where that namespace lives on the agent host
	HostPath string `yaml:"host_path"`
}

// Config is the on-disk configuration
type Config struct {
	// Socket is the unix socket path the agent listens on
	Socket string `yaml:"socket"`
	// LogLevel is a zap level string: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// ReadOnly refuses write-mode opens on managed paths
	ReadOnly bool `yaml:"read_only"`

	Mapping Mapping `yaml:"mapping"`

	// Managed lists path patterns handled remotely; empty manages
	// everything not matched by Local
	Managed []string `yaml:"managed"`
	// Local lists path patterns always served by the local filesystem,
	// in addition to the built-in /proc, /sys and /dev overrides
	Local []string `yaml:"local"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Socket:   "/run/mirrorfs/agent.sock",
		LogLevel: "info",
		Mapping: Mapping{
			ContainerRoot: "/",
			HostPath:      "/",
		},
	}
}

// Load reads the YAML file at path on top of the defaults
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Socket == "" {
		return fmt.Errorf("socket path must not be empty")
	}
	if c.Mapping.HostPath == "" {
		return fmt.Errorf("mapping host_path must not be empty")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
