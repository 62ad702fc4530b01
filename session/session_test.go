package session_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/component"
	"github.com/kbukum/execkit/config"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/session"
)

func open(t *testing.T, cfg session.Config, opts ...session.Option) *session.Session {
	t.Helper()
	opts = append([]session.Option{session.WithLogger(logger.NewNop())}, opts...)
	s, err := session.Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConfigDefaults(t *testing.T) {
	var cfg session.Config
	cfg.ApplyDefaults()
	if cfg.Backend != executor.BackendLocal {
		t.Fatalf("expected local backend, got %q", cfg.Backend)
	}
	if cfg.Pool.Attempts == 0 || cfg.Pool.Delay == 0 {
		t.Fatalf("pool defaults not applied: %+v", cfg.Pool)
	}
	if cfg.Tracing.ServiceName != cfg.Name || cfg.Metrics.Environment != cfg.Environment {
		t.Fatalf("telemetry not tied to the service: %+v %+v", cfg.Tracing, cfg.Metrics)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigBackendAlias(t *testing.T) {
	cfg := session.Config{Backend: "Container"}
	cfg.ApplyDefaults()
	if cfg.Backend != executor.BackendDocker {
		t.Fatalf("expected docker, got %q", cfg.Backend)
	}
}

func TestConfigValidateUnknownBackend(t *testing.T) {
	cfg := session.Config{Backend: "telnet"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); !errors.IsCode(err, errors.ErrCodeUnsupportedBackend) {
		t.Fatalf("expected UNSUPPORTED_BACKEND, got %v", err)
	}
	if _, err := session.Open(context.Background(), session.Config{Backend: "telnet"}, session.WithLogger(logger.NewNop())); err == nil {
		t.Fatal("expected Open to reject the config")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "execkit.yml")
	content := `
name: broker-suite
environment: test
backend: pod
pool:
  attempts: 3
  delay: 20ms
backends:
  kubernetes:
    namespace: qa
    selector: app=broker
    pod_wait: 5s
  ansible:
    host: broker-1
    extra_vars:
      port: "5672"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := session.Load("execkit", config.WithConfigFile(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "broker-suite" || cfg.Backend != executor.BackendKubernetes {
		t.Fatalf("unexpected config %+v", cfg.ServiceConfig)
	}
	if cfg.Pool.Attempts != 3 || cfg.Pool.Delay != 20*time.Millisecond {
		t.Fatalf("unexpected pool %+v", cfg.Pool)
	}
	k := cfg.Backends.Kubernetes
	if k.Namespace != "qa" || k.Selector != "app=broker" || k.PodWait != 5*time.Second {
		t.Fatalf("unexpected kubernetes section %+v", k)
	}
	if cfg.Backends.Ansible.ExtraVars["port"] != "5672" {
		t.Fatalf("unexpected ansible section %+v", cfg.Backends.Ansible)
	}
}

func TestRunOnDefaultBackend(t *testing.T) {
	s := open(t, session.Config{})

	ex, err := s.Run(context.Background(), command.New([]string{"echo", "ready"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ex.CompletedSuccessfully() || ex.ReadStdout() != "ready\n" {
		t.Fatalf("unexpected %s %q", ex.State(), ex.ReadStdout())
	}
	if ex.Backend() != executor.BackendLocal {
		t.Fatalf("unexpected backend %q", ex.Backend())
	}
}

func TestExecutorIsBuiltOnce(t *testing.T) {
	s := open(t, session.Config{})
	a, err := s.Executor("")
	if err != nil {
		t.Fatalf("Executor: %v", err)
	}
	b, err := s.Executor("local")
	if err != nil {
		t.Fatalf("Executor: %v", err)
	}
	if a != b {
		t.Fatal("expected the cached executor")
	}
}

func TestExecutorErrors(t *testing.T) {
	s := open(t, session.Config{})

	if _, err := s.Executor("telnet"); !errors.IsCode(err, errors.ErrCodeUnsupportedBackend) {
		t.Fatalf("expected UNSUPPORTED_BACKEND, got %v", err)
	}
	if _, err := s.Executor("ssh"); !errors.IsCode(err, errors.ErrCodeLaunchFailure) {
		t.Fatalf("expected LAUNCH_FAILURE for an empty ssh section, got %v", err)
	}
}

func TestMiddlewareOption(t *testing.T) {
	var seen []string
	record := func(next executor.Executor) executor.Executor {
		return recordingExecutor{Executor: next, seen: &seen}
	}
	s := open(t, session.Config{}, session.WithMiddleware(record))

	if _, err := s.Run(context.Background(), command.New([]string{"true"})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 1 || seen[0] != "true" {
		t.Fatalf("middleware not applied: %v", seen)
	}
}

type recordingExecutor struct {
	executor.Executor
	seen *[]string
}

func (r recordingExecutor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	*r.seen = append(*r.seen, strings.Join(cmd.Args(), " "))
	return r.Executor.Execute(ctx, cmd)
}

func TestCloseDrainsPool(t *testing.T) {
	s, err := session.Open(context.Background(), session.Config{}, session.WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ex, err := s.Run(context.Background(), command.New([]string{"sleep", "30"}, command.AsDaemon()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ex.IsRunning() {
		t.Fatalf("daemon should still run, got %s", ex.State())
	}

	start := time.Now()
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-ex.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon outlived the session")
	}
	if time.Since(start) > 5*time.Second || ex.CompletedSuccessfully() {
		t.Fatalf("unexpected teardown %s after %v", ex.State(), time.Since(start))
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Executor(""); !errors.IsCode(err, errors.ErrCodeLaunchFailure) {
		t.Fatalf("expected LAUNCH_FAILURE after close, got %v", err)
	}
}

// streamExecutor runs every command as a stream that only ends when it is
// terminated, like a pod exec tailing a log.
type streamExecutor struct {
	executor.Executor
}

func (streamExecutor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	return execution.Start(ctx, cmd, execution.Options{
		Backend: executor.BackendKubernetes,
		Args:    cmd.Args(),
		Launch: func(ctx context.Context) (execution.Handle, error) {
			return execution.StartStream(ctx, func(sctx context.Context, stdout, _ io.Writer) error {
				_, _ = io.WriteString(stdout, "tailing\n")
				<-sctx.Done()
				return sctx.Err()
			}, true, false, func(error) int { return -1 }), nil
		},
		Log: logger.NewNop(),
	}), nil
}

func TestCloseInterruptsStreams(t *testing.T) {
	stream := func(next executor.Executor) executor.Executor { return streamExecutor{Executor: next} }
	s, err := session.Open(context.Background(), session.Config{},
		session.WithLogger(logger.NewNop()), session.WithMiddleware(stream))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ex, err := s.Run(context.Background(), command.New([]string{"tail", "-f", "/var/log/qpidd.log"}, command.AsDaemon()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ex.IsRunning() {
		t.Fatalf("stream should still run, got %s", ex.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-ex.Done():
	default:
		t.Fatal("stream outlived the session")
	}
	if !ex.Interrupted() || ex.ReadStdout() != "tailing\n" {
		t.Fatalf("expected interrupted stream with its output, got %s %q", ex.State(), ex.ReadStdout())
	}
}

func TestHealthAndDescribe(t *testing.T) {
	s := open(t, session.Config{})

	health := s.Health(context.Background())
	if len(health) != 1 || health[0].Name != "process-pool" || health[0].Status != component.StatusHealthy {
		t.Fatalf("unexpected health %+v", health)
	}
	desc := s.Describe()
	if len(desc) != 1 || desc[0].Type != "process" {
		t.Fatalf("unexpected description %+v", desc)
	}

	_ = s.Close(context.Background())
	if h := s.Health(context.Background()); h[0].Status != component.StatusUnhealthy {
		t.Fatalf("expected unhealthy after drain, got %+v", h)
	}
}
