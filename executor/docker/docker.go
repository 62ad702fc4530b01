// Package docker runs commands inside a running container.
//
// Commands are launched through the engine CLI (docker exec) as local
// processes. Before each launch the engine API is asked whether the target
// container exists and is running, so a stopped container fails fast instead
// of producing a confusing exec error.
package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
)

func init() {
	executor.RegisterFactory(executor.BackendDocker, func(providerCfg any, env executor.Env) (executor.Executor, error) {
		cfg, err := executor.ConfigAs[Config](providerCfg)
		if err != nil {
			return nil, err
		}
		return New(cfg, env.Pool, env.Log)
	})
}

// Inspector reports container state. *client.Client implements it.
type Inspector interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithInspector replaces the engine client used for preflight checks.
func WithInspector(i Inspector) Option {
	return func(e *Executor) { e.inspector = i }
}

// Executor wraps commands in docker exec.
type Executor struct {
	cfg       Config
	pool      *process.Pool
	log       *logger.Logger
	inspector Inspector
	client    *client.Client
}

// New creates a container executor.
func New(cfg Config, pool *process.Pool, log *logger.Logger, opts ...Option) (*Executor, error) {
	if pool == nil {
		return nil, errors.MissingField("pool")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.LaunchFailure(executor.BackendDocker, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	e := &Executor{
		cfg:  cfg,
		pool: pool,
		log:  log.WithFields(map[string]interface{}{logger.FieldContainer: cfg.Container}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.inspector == nil && !cfg.SkipPreflight {
		cli, err := newClient(cfg)
		if err != nil {
			return nil, errors.LaunchFailure(executor.BackendDocker, err)
		}
		e.client = cli
		e.inspector = cli
	}
	return e, nil
}

func newClient(cfg Config) (*client.Client, error) {
	opts := []client.Opt{
		client.WithHost(cfg.Host),
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	if cfg.TLS != nil && cfg.TLS.Cert != "" {
		opts = append(opts, client.WithTLSClientConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}
	return cli, nil
}

func (e *Executor) Name() string { return executor.BackendDocker }

// Close releases the engine client.
func (e *Executor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// Execute checks the container and launches docker exec.
func (e *Executor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	if err := executor.Prepare(executor.BackendDocker, cmd); err != nil {
		return nil, err
	}
	if err := e.Preflight(ctx); err != nil {
		return nil, errors.LaunchFailure(executor.BackendDocker, err)
	}
	args := e.Args(cmd)
	return execution.Start(ctx, cmd, execution.Options{
		Backend: executor.BackendDocker,
		Args:    args,
		Launch:  e.launcher(cmd, args),
		Log:     e.log,
	}), nil
}

// Preflight verifies the container exists and is running.
func (e *Executor) Preflight(ctx context.Context) error {
	if e.inspector == nil {
		return nil
	}
	info, err := e.inspector.ContainerInspect(ctx, e.cfg.Container)
	if err != nil {
		if client.IsErrNotFound(err) {
			return errors.NotFound("container", e.cfg.Container).WithCause(err)
		}
		return fmt.Errorf("docker: inspect %s: %w", e.cfg.Container, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		status := "unknown"
		if info.ContainerJSONBase != nil && info.State != nil {
			status = string(info.State.Status)
		}
		return errors.InvalidInput("container", fmt.Sprintf("%s is not running (status %s)", e.cfg.Container, status))
	}
	return nil
}

// Args returns the docker exec vector for cmd:
//
//	docker [-H HOST] exec [-i] [-u USER] [-w DIR] [-e K=V]... CONTAINER sh -c 'cmd' 'arg'...
func (e *Executor) Args(cmd *command.Command) []string {
	args := []string{e.cfg.Binary}
	if e.cfg.Host != DefaultHost {
		args = append(args, "-H", e.cfg.Host)
	}
	args = append(args, "exec")
	if cmd.Stdin() != nil {
		args = append(args, "-i")
	}
	if e.cfg.User != "" {
		args = append(args, "-u", e.cfg.User)
	}
	if dir := cmd.Dir(); dir != "" {
		args = append(args, "-w", dir)
	}
	for _, kv := range cmd.Env() {
		args = append(args, "-e", kv)
	}
	return append(args, e.cfg.Container, e.cfg.Shell, "-c", executor.ShellJoin(cmd.Args()))
}

// launcher spawns the engine CLI locally; dir and env were passed to the
// container through exec flags.
func (e *Executor) launcher(cmd *command.Command, args []string) execution.Launcher {
	return func(context.Context) (execution.Handle, error) {
		p, err := e.pool.Start(process.Spec{
			Args:          args,
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
