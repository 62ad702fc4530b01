// Package kubernetes runs commands inside a pod through the exec API.
//
// The target pod is resolved by name or label selector. The command is then
// streamed over the pod exec subresource; there is no local process, so
// output accumulates in append-only buffers and terminating the execution
// cancels the stream.
package kubernetes

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/logger"
)

func init() {
	executor.RegisterFactory(executor.BackendKubernetes, func(providerCfg any, env executor.Env) (executor.Executor, error) {
		cfg, err := executor.ConfigAs[Config](providerCfg)
		if err != nil {
			return nil, err
		}
		return New(cfg, env.Log)
	})
}

// ExecFunc opens an exec stream against pod.
type ExecFunc func(pod *corev1.Pod, opts *corev1.PodExecOptions) (remotecommand.Executor, error)

// Option configures an Executor.
type Option func(*Executor)

// WithClient uses client instead of building one from the config.
func WithClient(client kubernetes.Interface) Option {
	return func(e *Executor) { e.client = client }
}

// WithExecFunc replaces the SPDY exec transport.
func WithExecFunc(fn ExecFunc) Option {
	return func(e *Executor) { e.exec = fn }
}

// Executor streams commands into a pod.
type Executor struct {
	cfg     Config
	client  kubernetes.Interface
	restCfg *rest.Config
	exec    ExecFunc
	log     *logger.Logger
}

// New creates a pod executor.
func New(cfg Config, log *logger.Logger, opts ...Option) (*Executor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.LaunchFailure(executor.BackendKubernetes, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	e := &Executor{
		cfg: cfg,
		log: log.WithFields(map[string]interface{}{logger.FieldNamespace: cfg.Namespace}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		restCfg, err := buildRestConfig(&cfg)
		if err != nil {
			return nil, errors.LaunchFailure(executor.BackendKubernetes, fmt.Errorf("kubernetes: build config: %w", err))
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, errors.LaunchFailure(executor.BackendKubernetes, fmt.Errorf("kubernetes: create clientset: %w", err))
		}
		e.restCfg = restCfg
		e.client = clientset
	}
	if e.exec == nil {
		e.exec = e.spdyExec
	}
	return e, nil
}

func buildRestConfig(cfg *Config) (*rest.Config, error) {
	if cfg.Host != "" {
		return &rest.Config{
			Host:        cfg.Host,
			BearerToken: cfg.Token,
			TLSClientConfig: rest.TLSClientConfig{
				Insecure: cfg.Insecure,
				CAFile:   cfg.CAFile,
			},
		}, nil
	}
	if cfg.Kubeconfig != "" {
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: cfg.Kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: cfg.Context},
		).ClientConfig()
	}
	return rest.InClusterConfig()
}

func (e *Executor) Name() string { return executor.BackendKubernetes }

// Execute resolves the pod and starts the exec stream. A pod that cannot be
// found or never becomes ready fails fast with LAUNCH_FAILURE.
func (e *Executor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	if err := executor.Prepare(executor.BackendKubernetes, cmd); err != nil {
		return nil, err
	}
	pod, err := e.ResolvePod(ctx)
	if err != nil {
		return nil, errors.LaunchFailure(executor.BackendKubernetes, err)
	}

	opts := e.execOptions(cmd)
	args := []string{"exec", "-n", pod.Namespace, pod.Name}
	if opts.Container != "" {
		args = append(args, "-c", opts.Container)
	}
	args = append(append(args, "--"), opts.Command...)

	return execution.Start(ctx, cmd, execution.Options{
		Backend: executor.BackendKubernetes,
		Args:    args,
		Launch:  e.launcher(cmd, pod, opts),
		Log:     e.log.WithFields(map[string]interface{}{logger.FieldPod: pod.Name}),
	}), nil
}

// execOptions builds the exec request. The API requires a stream to attach,
// so stdout and stderr are always requested and uncaptured output is
// discarded locally.
func (e *Executor) execOptions(cmd *command.Command) *corev1.PodExecOptions {
	argv := cmd.Args()
	if cmd.Dir() != "" || len(cmd.Env()) > 0 {
		argv = []string{"sh", "-c", executor.RemoteCommandLine(argv, cmd.Dir(), cmd.Env())}
	}
	return &corev1.PodExecOptions{
		Container: e.cfg.Container,
		Command:   argv,
		Stdin:     cmd.Stdin() != nil,
		Stdout:    true,
		Stderr:    true,
	}
}

func (e *Executor) launcher(cmd *command.Command, pod *corev1.Pod, opts *corev1.PodExecOptions) execution.Launcher {
	return func(ctx context.Context) (execution.Handle, error) {
		stream, err := e.exec(pod, opts)
		if err != nil {
			return nil, err
		}
		run := func(ctx context.Context, stdout, stderr io.Writer) error {
			return stream.StreamWithContext(ctx, remotecommand.StreamOptions{
				Stdin:  cmd.Stdin(),
				Stdout: stdout,
				Stderr: stderr,
			})
		}
		return execution.StartStream(ctx, run, cmd.CaptureStdout(), cmd.CaptureStderr(), exitCode), nil
	}
}

func (e *Executor) spdyExec(pod *corev1.Pod, opts *corev1.PodExecOptions) (remotecommand.Executor, error) {
	if e.restCfg == nil {
		return nil, fmt.Errorf("kubernetes: no rest config for exec")
	}
	req := e.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod.Name).
		Namespace(pod.Namespace).
		SubResource("exec").
		VersionedParams(opts, scheme.ParameterCodec)
	return remotecommand.NewSPDYExecutor(e.restCfg, "POST", req.URL())
}

// exitCode maps the stream result to an exit status: 0 on success, the
// remote status when the command failed, -1 when the stream itself broke.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr utilexec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}
