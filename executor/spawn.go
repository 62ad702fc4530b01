package executor

import (
	"context"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
)

// SpawnProcess returns a launcher that starts args as a local process in
// pool, with the capture flags, directory, environment and input of cmd.
// Backends whose transport is a local CLI (ssh, docker, ansible) use it with
// their wrapped vector.
func SpawnProcess(pool *process.Pool, cmd *command.Command, args []string) execution.Launcher {
	return func(context.Context) (execution.Handle, error) {
		p, err := pool.Start(process.Spec{
			Args:          args,
			Dir:           cmd.Dir(),
			Env:           cmd.Env(),
			Stdin:         cmd.Stdin(),
			CaptureStdout: cmd.CaptureStdout(),
			CaptureStderr: cmd.CaptureStderr(),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// StartProcess launches args for backend in pool and returns the execution.
func StartProcess(ctx context.Context, backend string, pool *process.Pool, log *logger.Logger, cmd *command.Command, args []string) execution.Execution {
	return execution.Start(ctx, cmd, execution.Options{
		Backend: backend,
		Args:    args,
		Launch:  SpawnProcess(pool, cmd, args),
		Log:     log,
	})
}
