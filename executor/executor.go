package executor

import (
	"context"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
)

// Executor dispatches commands through one transport.
type Executor interface {
	// Name returns the backend name recorded on every execution.
	Name() string

	// Execute launches cmd and returns without waiting for it. If the
	// backend cannot be parametrized it fails fast with a LAUNCH_FAILURE
	// error and no execution. If the launch itself fails, the returned
	// execution is already settled as Failed.
	Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error)
}

// Backend names.
const (
	BackendLocal      = "local"
	BackendSSH        = "ssh"
	BackendDocker     = "docker"
	BackendKubernetes = "kubernetes"
	BackendAnsible    = "ansible"
)

// Prepare checks that cmd can be launched by backend.
func Prepare(backend string, cmd *command.Command) error {
	if cmd == nil {
		return errors.LaunchFailure(backend, errors.MissingField("command"))
	}
	if err := cmd.Validate(); err != nil {
		return errors.LaunchFailure(backend, err)
	}
	if err := execution.CheckEncoding(cmd.Encoding()); err != nil {
		return errors.LaunchFailure(backend, err)
	}
	return nil
}

// Run executes cmd and waits for it and its post-exec hooks unless it is a
// daemon. If ctx ends first, the execution is interrupted and Run returns
// once it settled, together with the context error.
func Run(ctx context.Context, e Executor, cmd *command.Command) (execution.Execution, error) {
	ex, err := e.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if cmd.Daemon() {
		return ex, nil
	}
	if err := ex.Wait(ctx); err != nil {
		ex.Interrupt()
		<-ex.Done()
		return ex, err
	}
	<-ex.Done()
	return ex, nil
}
