package session

import (
	"fmt"

	"github.com/kbukum/execkit/config"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/executor/ansible"
	"github.com/kbukum/execkit/executor/docker"
	"github.com/kbukum/execkit/executor/kubernetes"
	"github.com/kbukum/execkit/executor/local"
	"github.com/kbukum/execkit/executor/ssh"
	"github.com/kbukum/execkit/observability"
	"github.com/kbukum/execkit/process"
	"github.com/kbukum/execkit/version"
)

// Config is the full run configuration.
//
//	name: broker-suite
//	backend: ssh
//	pool:
//	  attempts: 10
//	  delay: 100ms
//	backends:
//	  ssh:
//	    host: broker-1
//	    user: qa
//	    key_file: ~/.ssh/id_ed25519
//	tracing:
//	  enabled: true
//	  endpoint: localhost:4318
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	// Backend is the executor used when none is named.
	Backend  string                     `yaml:"backend" mapstructure:"backend"`
	Pool     process.PoolConfig         `yaml:"pool" mapstructure:"pool"`
	Backends BackendsConfig             `yaml:"backends" mapstructure:"backends"`
	Tracing  observability.TracerConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics  observability.MeterConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// BackendsConfig holds one section per backend.
type BackendsConfig struct {
	Local      local.Config      `yaml:"local" mapstructure:"local"`
	SSH        ssh.Config        `yaml:"ssh" mapstructure:"ssh"`
	Docker     docker.Config     `yaml:"docker" mapstructure:"docker"`
	Kubernetes kubernetes.Config `yaml:"kubernetes" mapstructure:"kubernetes"`
	Ansible    ansible.Config    `yaml:"ansible" mapstructure:"ansible"`
}

// ApplyDefaults fills in zero-valued fields. Backend sections are completed
// by their executors.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	if c.Version == "" {
		c.Version = version.Short()
	}
	if c.Backend == "" {
		c.Backend = executor.BackendLocal
	}
	c.Backend = executor.Canonical(c.Backend)
	c.Pool.ApplyDefaults()

	for _, svc := range []*string{&c.Tracing.ServiceName, &c.Metrics.ServiceName} {
		if *svc == "" {
			*svc = c.Name
		}
	}
	for _, env := range []*string{&c.Tracing.Environment, &c.Metrics.Environment} {
		if *env == "" {
			*env = c.Environment
		}
	}
	for _, ver := range []*string{&c.Tracing.ServiceVersion, &c.Metrics.ServiceVersion} {
		if *ver == "" {
			*ver = c.Version
		}
	}
	if c.Tracing.Enabled {
		def := observability.DefaultTracerConfig(c.Name)
		if c.Tracing.Endpoint == "" {
			c.Tracing.Endpoint = def.Endpoint
		}
		if c.Tracing.SampleRate == 0 {
			c.Tracing.SampleRate = def.SampleRate
		}
	}
	if c.Metrics.Enabled {
		def := observability.DefaultMeterConfig(c.Name)
		if c.Metrics.Endpoint == "" {
			c.Metrics.Endpoint = def.Endpoint
		}
		if c.Metrics.Interval == 0 {
			c.Metrics.Interval = def.Interval
		}
	}
}

// Validate checks the run-wide settings. Backend sections are validated
// when their executor is created.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("config.pool: %w", err)
	}
	if _, err := c.BackendConfig(c.Backend); err != nil {
		return err
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("config.tracing.sample_rate must be between 0 and 1 (got: %g)", c.Tracing.SampleRate)
	}
	return nil
}

// BackendConfig returns the section for the named backend or alias.
func (c *Config) BackendConfig(name string) (any, error) {
	switch executor.Canonical(name) {
	case executor.BackendLocal:
		return c.Backends.Local, nil
	case executor.BackendSSH:
		return c.Backends.SSH, nil
	case executor.BackendDocker:
		return c.Backends.Docker, nil
	case executor.BackendKubernetes:
		return c.Backends.Kubernetes, nil
	case executor.BackendAnsible:
		return c.Backends.Ansible, nil
	default:
		return nil, errors.UnsupportedBackend(name)
	}
}

// Load reads the configuration for name, applies defaults and validates it.
func Load(name string, opts ...config.LoaderOption) (*Config, error) {
	cfg := &Config{}
	if err := config.LoadConfig(name, cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
