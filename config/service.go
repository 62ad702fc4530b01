package config

import (
	"fmt"
	"slices"

	"github.com/kbukum/execkit/logger"
)

// ServiceConfig holds the fields every execkit run shares. Larger configs
// embed it with `mapstructure:",squash"`.
type ServiceConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Version     string        `yaml:"version" mapstructure:"version"`
	Debug       bool          `yaml:"debug" mapstructure:"debug"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`
}

var environments = []string{"development", "test", "staging", "production"}

// GetServiceConfig returns the base ServiceConfig. The method is promoted to
// embedding structs.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig {
	return c
}

// ApplyDefaults applies default values. Embedding structs call it first.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "execkit"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
}

// Validate validates the base fields.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	if !slices.Contains(environments, c.Environment) {
		return fmt.Errorf("config.environment must be one of %v (got: %s)", environments, c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	return nil
}
