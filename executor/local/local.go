// Package local runs commands as processes on this host.
package local

import (
	"context"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
	"github.com/kbukum/execkit/validation"
)

func init() {
	executor.RegisterFactory(executor.BackendLocal, func(providerCfg any, env executor.Env) (executor.Executor, error) {
		cfg, err := executor.ConfigAs[Config](providerCfg)
		if err != nil {
			return nil, err
		}
		return New(cfg, env.Pool, env.Log)
	})
}

// Config configures the local backend.
type Config struct {
	// Dir is the default working directory for commands that set none.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"omitempty,dir"`
	// Env is appended to the environment of every command.
	Env []string `yaml:"env" mapstructure:"env"`
}

// Validate checks that the default directory exists.
func (c *Config) Validate() error {
	return validation.Struct(c)
}

// Executor launches the command vector unchanged.
type Executor struct {
	cfg  Config
	pool *process.Pool
	log  *logger.Logger
}

// New creates a local executor. pool is required.
func New(cfg Config, pool *process.Pool, log *logger.Logger) (*Executor, error) {
	if pool == nil {
		return nil, errors.MissingField("pool")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.LaunchFailure(executor.BackendLocal, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Executor{cfg: cfg, pool: pool, log: log}, nil
}

func (e *Executor) Name() string { return executor.BackendLocal }

// Execute spawns the command and returns while it runs.
func (e *Executor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	if err := executor.Prepare(executor.BackendLocal, cmd); err != nil {
		return nil, err
	}
	return execution.Start(ctx, cmd, execution.Options{
		Backend: executor.BackendLocal,
		Args:    cmd.Args(),
		Launch:  e.launcher(cmd),
		Log:     e.log,
	}), nil
}

// Run is the cooperative variant: the caller blocks only while the process
// is spawned and while its exit is awaited. Hooks do not run. The command
// timeout yields a TIMEOUT error and ctx cancellation an INTERRUPTED one; a
// non-zero exit is only reported in the result.
func (e *Executor) Run(ctx context.Context, cmd *command.Command) (*process.Result, error) {
	if err := executor.Prepare(executor.BackendLocal, cmd); err != nil {
		return nil, err
	}
	runCtx := ctx
	if d := cmd.Timeout(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	res, err := e.pool.Run(runCtx, e.spec(cmd))
	if res == nil && err != nil {
		return nil, errors.LaunchFailure(executor.BackendLocal, err)
	}
	if err != nil && ctx.Err() == nil && runCtx.Err() != nil {
		return res, errors.Timeout(cmd.Timeout()).WithCause(err)
	}
	return res, err
}

func (e *Executor) launcher(cmd *command.Command) execution.Launcher {
	return func(context.Context) (execution.Handle, error) {
		p, err := e.pool.Start(e.spec(cmd))
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func (e *Executor) spec(cmd *command.Command) process.Spec {
	dir := cmd.Dir()
	if dir == "" {
		dir = e.cfg.Dir
	}
	return process.Spec{
		Args:          cmd.Args(),
		Dir:           dir,
		Env:           append(append([]string{}, e.cfg.Env...), cmd.Env()...),
		Stdin:         cmd.Stdin(),
		CaptureStdout: cmd.CaptureStdout(),
		CaptureStderr: cmd.CaptureStderr(),
	}
}
