package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the top-level toolgate.yaml structure.
type FileConfig struct {
	Integrations []integrationConfig `yaml:"integrations"`
}

type integrationConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description,omitempty"`
	Provider     string            `yaml:"provider,omitempty"`
	Type         string            `yaml:"type"`
	Version      string            `yaml:"version,omitempty"`
	Config       map[string]any    `yaml:"config,omitempty"`
	Auth         authConfig        `yaml:"auth,omitempty"`
	Secrets      map[string]string `yaml:"secrets,omitempty"`
	Capabilities []string          `yaml:"capabilities,omitempty"`
	RateLimit    rateLimitConfig   `yaml:"rate_limit,omitempty"`
	Cost         costConfig        `yaml:"cost"`
}

type authConfig struct {
	Type   string            `yaml:"type,omitempty"`
	Config map[string]string `yaml:"config,omitempty"`
}

type rateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
	RequestsPerHour   int `yaml:"requests_per_hour,omitempty"`
	RequestsPerDay    int `yaml:"requests_per_day,omitempty"`
	Concurrent        int `yaml:"concurrent,omitempty"`
}

type costConfig struct {
	Type     string  `yaml:"type"`
	Amount   float64 `yaml:"amount"`
	Currency string  `yaml:"currency"`
	Unit     string  `yaml:"unit,omitempty"`
}

// LoadFile reads, parses, and validates a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
