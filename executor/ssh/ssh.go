// Package ssh runs commands on a remote host through the ssh client.
//
// The command vector is quoted into a single remote shell line and launched
// as a local ssh process, so timeouts and interrupts terminate the client
// the same way they terminate any local process.
package ssh

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
)

// passwordEnv is the variable sshpass -e reads the password from.
const passwordEnv = "SSHPASS"

func init() {
	executor.RegisterFactory(executor.BackendSSH, func(providerCfg any, env executor.Env) (executor.Executor, error) {
		cfg, err := executor.ConfigAs[Config](providerCfg)
		if err != nil {
			return nil, err
		}
		return New(cfg, env.Pool, env.Log)
	})
}

// Executor wraps commands in an ssh invocation.
type Executor struct {
	cfg  Config
	pool *process.Pool
	log  *logger.Logger
}

// New validates cfg and creates an ssh executor. Missing or unusable
// credentials fail here with LAUNCH_FAILURE.
func New(cfg Config, pool *process.Pool, log *logger.Logger) (*Executor, error) {
	if pool == nil {
		return nil, errors.MissingField("pool")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.LaunchFailure(executor.BackendSSH, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Executor{
		cfg:  cfg,
		pool: pool,
		log:  log.WithFields(map[string]interface{}{logger.FieldHost: cfg.Host}),
	}, nil
}

func (e *Executor) Name() string { return executor.BackendSSH }

// Execute launches the wrapped command.
func (e *Executor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	if err := executor.Prepare(executor.BackendSSH, cmd); err != nil {
		return nil, err
	}
	args := e.Args(cmd)
	return execution.Start(ctx, cmd, execution.Options{
		Backend: executor.BackendSSH,
		Args:    args,
		Launch:  e.launcher(cmd, args),
		Log:     e.log,
	}), nil
}

// Args returns the ssh vector for cmd:
//
//	[sshpass -e] ssh -p PORT -o ... [-i KEY] USER@HOST 'cmd' 'arg'...
//
// The password never appears in the vector; sshpass reads it from SSHPASS.
func (e *Executor) Args(cmd *command.Command) []string {
	var args []string
	if e.usePassword() {
		args = append(args, e.cfg.PassBinary, "-e")
	}
	args = append(args, e.cfg.Binary, "-p", strconv.Itoa(e.cfg.Port))
	if !e.cfg.StrictHostKeyChecking {
		args = append(args, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	}
	args = append(args, "-o", fmt.Sprintf("ConnectTimeout=%d", int(e.cfg.ConnectTimeout.Seconds())))
	if e.cfg.KeyFile != "" {
		args = append(args, "-i", e.cfg.KeyFile)
	}
	for _, opt := range e.cfg.Options {
		args = append(args, "-o", opt)
	}
	args = append(args, e.cfg.User+"@"+e.cfg.Host)
	return append(args, executor.RemoteCommandLine(cmd.Args(), cmd.Dir(), cmd.Env()))
}

func (e *Executor) usePassword() bool {
	return e.cfg.KeyFile == "" && e.cfg.Password != ""
}

// launcher spawns the ssh client locally. The command's dir and env are
// applied on the remote side, so the client inherits neither.
func (e *Executor) launcher(cmd *command.Command, args []string) execution.Launcher {
	var env []string
	if e.usePassword() {
		env = []string{passwordEnv + "=" + e.cfg.Password}
	}
	return func(context.Context) (execution.Handle, error) {
		p, err := e.pool.Start(process.Spec{
			Args:          args,
			Env:           env,
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
