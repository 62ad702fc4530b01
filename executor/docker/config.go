package docker

import (
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/validation"
)

const (
	DefaultHost   = "unix:///var/run/docker.sock"
	DefaultBinary = "docker"
	DefaultShell  = "sh"
)

// Config describes the target container and how to reach the engine.
type Config struct {
	// Container is the name or id of a running container.
	Container string `yaml:"container" mapstructure:"container" validate:"required"`
	// User runs the command as this in-container user (docker exec -u).
	User string `yaml:"user" mapstructure:"user"`
	// Binary is the container engine CLI.
	Binary string `yaml:"binary" mapstructure:"binary"`
	// Shell interprets the quoted command line inside the container.
	Shell string `yaml:"shell" mapstructure:"shell"`
	// Host is the engine endpoint, used by the CLI and the preflight client.
	Host string `yaml:"host" mapstructure:"host"`
	// APIVersion pins the engine API version; empty negotiates.
	APIVersion string `yaml:"api_version" mapstructure:"api_version"`
	// TLS enables a TLS connection to a remote engine.
	TLS *TLSConfig `yaml:"tls" mapstructure:"tls"`
	// SkipPreflight disables the engine check that the container is running.
	SkipPreflight bool `yaml:"skip_preflight" mapstructure:"skip_preflight"`
}

// TLSConfig holds engine TLS settings.
type TLSConfig struct {
	CACert string `yaml:"ca_cert" mapstructure:"ca_cert"`
	Cert   string `yaml:"cert" mapstructure:"cert"`
	Key    string `yaml:"key" mapstructure:"key"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
}

// Validate checks the container configuration.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.TLS != nil && (c.TLS.Cert == "" || c.TLS.Key == "") {
		return errors.InvalidInput("tls", "cert and key are both required when tls is enabled")
	}
	return nil
}
