package process

import (
	"fmt"
	"time"
)

const (
	DefaultDrainAttempts = 10
	DefaultDrainDelay    = 100 * time.Millisecond
	DefaultGracePeriod   = 5 * time.Second
)

// PoolConfig configures process teardown.
type PoolConfig struct {
	// Attempts is how many times Drain polls a terminated process before killing it.
	Attempts int `yaml:"attempts" mapstructure:"attempts"`
	// Delay is the interval between Drain polls.
	Delay time.Duration `yaml:"delay" mapstructure:"delay"`
	// GracePeriod is the default SIGTERM to SIGKILL delay for Process.Terminate.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *PoolConfig) ApplyDefaults() {
	if c.Attempts == 0 {
		c.Attempts = DefaultDrainAttempts
	}
	if c.Delay == 0 {
		c.Delay = DefaultDrainDelay
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
}

// Validate checks the pool configuration.
func (c *PoolConfig) Validate() error {
	if c.Attempts < 0 {
		return fmt.Errorf("process: attempts must be non-negative (got: %d)", c.Attempts)
	}
	if c.Delay < 0 || c.GracePeriod < 0 {
		return fmt.Errorf("process: delay and grace_period must be non-negative")
	}
	return nil
}
