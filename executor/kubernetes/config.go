package kubernetes

import (
	"time"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/validation"
)

const (
	DefaultNamespace    = "default"
	DefaultPodWait      = 30 * time.Second
	DefaultPollInterval = time.Second
)

// Config selects the target pod and how to reach the cluster.
type Config struct {
	// Kubeconfig is the path to the kubeconfig file. Empty with no Host uses
	// in-cluster config.
	Kubeconfig string `yaml:"kubeconfig" mapstructure:"kubeconfig"`
	// Context is the kubeconfig context to use. Empty uses the current context.
	Context string `yaml:"context" mapstructure:"context"`

	// Host, Token, Insecure and CAFile address an API server directly.
	Host     string `yaml:"host" mapstructure:"host"`
	Token    string `yaml:"token" mapstructure:"token"`
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
	CAFile   string `yaml:"ca_file" mapstructure:"ca_file"`

	// Namespace holds the target pod. Defaults to "default".
	Namespace string `yaml:"namespace" mapstructure:"namespace" validate:"required"`
	// Selector is a label selector such as "app=broker". Required unless Pod is set.
	Selector string `yaml:"selector" mapstructure:"selector" validate:"required_without=Pod"`
	// Pod names the target pod directly.
	Pod string `yaml:"pod" mapstructure:"pod"`
	// Container selects a container in multi-container pods.
	Container string `yaml:"container" mapstructure:"container"`

	// PodWait bounds how long to wait for a running pod.
	PodWait time.Duration `yaml:"pod_wait" mapstructure:"pod_wait"`
	// PollInterval is the delay between pod lookups while waiting.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.PodWait == 0 {
		c.PodWait = DefaultPodWait
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Validate checks the pod selection.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.PodWait < 0 || c.PollInterval <= 0 {
		return errors.InvalidInput("poll_interval", "pod_wait must be non-negative and poll_interval positive")
	}
	return nil
}
