package ansible

import (
	"github.com/kbukum/execkit/validation"
)

const DefaultBinary = "ansible"

// Config selects the managed host and how ansible reaches it.
type Config struct {
	// Host is the inventory pattern the module runs against.
	Host string `yaml:"host" mapstructure:"host" validate:"required"`
	// Inventory is an inventory file. Empty uses an inline inventory holding
	// only Host.
	Inventory string `yaml:"inventory" mapstructure:"inventory" validate:"omitempty,file"`
	// User is the remote user (-u).
	User string `yaml:"user" mapstructure:"user"`
	// KeyFile is the private key passed with --private-key.
	KeyFile string `yaml:"key_file" mapstructure:"key_file" validate:"omitempty,file"`
	// Connection overrides the connection plugin, such as "local".
	Connection string `yaml:"connection" mapstructure:"connection"`
	// Binary is the ad-hoc CLI.
	Binary string `yaml:"binary" mapstructure:"binary"`
	// ExtraVars are passed as -e key=value, sorted by key.
	ExtraVars map[string]string `yaml:"extra_vars" mapstructure:"extra_vars"`
	// Become runs the module with privilege escalation (-b).
	Become bool `yaml:"become" mapstructure:"become"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
}

// Validate checks the target and that referenced files exist.
func (c *Config) Validate() error {
	return validation.Struct(c)
}
