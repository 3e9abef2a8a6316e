package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the connection settings loaded from the optional YAML
// config file. Flags override file values.
type Config struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ReconnectIntervalSeconds int    `yaml:"reconnect_interval_seconds"`
	ReadTimeoutSeconds       int    `yaml:"read_timeout_seconds"`
	RequestTimeoutSeconds    int    `yaml:"request_timeout_seconds"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                     7000,
		ReconnectIntervalSeconds: 3600,
		ReadTimeoutSeconds:       90,
		RequestTimeoutSeconds:    5,
	}
}

// LoadConfig reads the YAML config file at path over the defaults. A
// missing file is not an error unless the path was given explicitly.
func LoadConfig(path string, explicit bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if explicit {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalSeconds) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
