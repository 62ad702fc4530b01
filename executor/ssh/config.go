package ssh

import (
	stderrors "errors"
	"fmt"
	"os"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/validation"
)

const (
	DefaultPort           = 22
	DefaultBinary         = "ssh"
	DefaultPassBinary     = "sshpass"
	DefaultConnectTimeout = 10 * time.Second
)

// Config describes the remote host and the credentials to reach it.
type Config struct {
	Host string `yaml:"host" mapstructure:"host" validate:"required"`
	Port int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	User string `yaml:"user" mapstructure:"user" validate:"required"`
	// KeyFile is a private key passed with -i.
	KeyFile string `yaml:"key_file" mapstructure:"key_file" validate:"omitempty,file"`
	// Password is fed to ssh through sshpass when no key is set.
	Password string `yaml:"password" mapstructure:"password"`
	// Binary is the ssh client to run.
	Binary string `yaml:"binary" mapstructure:"binary"`
	// PassBinary is the sshpass wrapper used for password logins.
	PassBinary string `yaml:"pass_binary" mapstructure:"pass_binary"`
	// Options are extra -o options such as "ServerAliveInterval=30".
	Options []string `yaml:"options" mapstructure:"options"`
	// ConnectTimeout maps to -o ConnectTimeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	// StrictHostKeyChecking keeps ssh's host key checks. Test hosts are
	// usually ephemeral, so checking is off by default.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.PassBinary == "" {
		c.PassBinary = DefaultPassBinary
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Validate checks that the host can be addressed and that a usable
// credential is configured. A key file must exist and parse as a private
// key; passphrase-protected keys are accepted and left to the ssh agent.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.KeyFile == "" && c.Password == "" {
		return errors.MissingField("key_file or password")
	}
	if c.KeyFile != "" {
		return checkKey(c.KeyFile)
	}
	return nil
}

func checkKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.InvalidInput("key_file", err.Error())
	}
	if _, err := cryptossh.ParsePrivateKey(data); err != nil {
		var missing *cryptossh.PassphraseMissingError
		if stderrors.As(err, &missing) {
			return nil
		}
		return errors.InvalidInput("key_file", fmt.Sprintf("%s is not a private key: %v", path, err))
	}
	return nil
}
