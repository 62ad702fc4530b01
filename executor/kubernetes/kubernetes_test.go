package kubernetes_test

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/executor/kubernetes"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pod(name string, phase corev1.PodPhase, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "qa", Labels: labels},
		Status:     corev1.PodStatus{Phase: phase},
	}
}

var brokerLabels = map[string]string{"app": "broker"}

// fakeStream plays back canned output, optionally blocking until canceled.
type fakeStream struct {
	stdout string
	stderr string
	err    error
	block  bool
}

func (f *fakeStream) Stream(opts remotecommand.StreamOptions) error {
	return f.StreamWithContext(context.Background(), opts)
}

func (f *fakeStream) StreamWithContext(ctx context.Context, opts remotecommand.StreamOptions) error {
	_, _ = io.WriteString(opts.Stdout, f.stdout)
	_, _ = io.WriteString(opts.Stderr, f.stderr)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

type execRecorder struct {
	mu     sync.Mutex
	pods   []string
	opts   []*corev1.PodExecOptions
	stream *fakeStream
}

func (r *execRecorder) exec(p *corev1.Pod, opts *corev1.PodExecOptions) (remotecommand.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pods = append(r.pods, p.Name)
	r.opts = append(r.opts, opts)
	return r.stream, nil
}

func newExecutor(t *testing.T, cfg kubernetes.Config, stream *fakeStream, pods ...*corev1.Pod) (*kubernetes.Executor, *execRecorder) {
	t.Helper()
	objs := make([]runtime.Object, 0, len(pods))
	for _, p := range pods {
		objs = append(objs, p)
	}
	rec := &execRecorder{stream: stream}
	if cfg.Namespace == "" {
		cfg.Namespace = "qa"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	e, err := kubernetes.New(cfg, logger.NewNop(),
		kubernetes.WithClient(fake.NewSimpleClientset(objs...)),
		kubernetes.WithExecFunc(rec.exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, rec
}

func run(t *testing.T, e executor.Executor, cmd *command.Command) execution.Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ex, err := executor.Run(ctx, e, cmd)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return ex
}

func TestNewValidation(t *testing.T) {
	_, err := kubernetes.New(kubernetes.Config{}, logger.NewNop(), kubernetes.WithClient(fake.NewSimpleClientset()))
	if !errors.IsCode(err, errors.ErrCodeLaunchFailure) {
		t.Fatalf("expected LAUNCH_FAILURE without selector, got %v", err)
	}
}

func TestResolvePodPrefersRunning(t *testing.T) {
	e, _ := newExecutor(t, kubernetes.Config{Selector: "app=broker"}, &fakeStream{},
		pod("broker-c", corev1.PodRunning, brokerLabels),
		pod("broker-a", corev1.PodPending, brokerLabels),
		pod("broker-b", corev1.PodRunning, brokerLabels),
		pod("router-a", corev1.PodRunning, map[string]string{"app": "router"}),
	)
	p, err := e.ResolvePod(context.Background())
	if err != nil {
		t.Fatalf("ResolvePod: %v", err)
	}
	if p.Name != "broker-b" {
		t.Fatalf("expected broker-b, got %s", p.Name)
	}
}

func TestResolvePodByName(t *testing.T) {
	e, _ := newExecutor(t, kubernetes.Config{Pod: "router-a"}, &fakeStream{},
		pod("router-a", corev1.PodRunning, nil))
	p, err := e.ResolvePod(context.Background())
	if err != nil || p.Name != "router-a" {
		t.Fatalf("unexpected %v %v", p, err)
	}
}

func TestExecuteWithoutRunningPod(t *testing.T) {
	e, rec := newExecutor(t, kubernetes.Config{Selector: "app=broker", PodWait: 50 * time.Millisecond}, &fakeStream{},
		pod("broker-a", corev1.PodPending, brokerLabels))

	start := time.Now()
	ex, err := e.Execute(context.Background(), command.New([]string{"true"}))
	if ex != nil || !errors.IsCode(err, errors.ErrCodeLaunchFailure) {
		t.Fatalf("expected LAUNCH_FAILURE, got %v %v", ex, err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("pod wait not bounded: %v", time.Since(start))
	}
	if len(rec.pods) != 0 {
		t.Fatal("no stream may be opened without a pod")
	}
}

func TestExecuteSuccess(t *testing.T) {
	e, rec := newExecutor(t, kubernetes.Config{Selector: "app=broker", Container: "qpidd"},
		&fakeStream{stdout: "queue-1\nqueue-2\n", stderr: "warn\n"},
		pod("broker-a", corev1.PodRunning, brokerLabels))

	cmd := command.New([]string{"qpid-config", "queues"})
	ex := run(t, e, cmd)

	if !ex.CompletedSuccessfully() {
		t.Fatalf("expected success, got %s %v", ex.State(), ex.Err())
	}
	if got := ex.StdoutLines(); !slices.Equal(got, []string{"queue-1", "queue-2"}) {
		t.Fatalf("unexpected stdout %q", got)
	}
	if ex.ReadStderr() != "warn\n" {
		t.Fatalf("unexpected stderr %q", ex.ReadStderr())
	}
	want := []string{"exec", "-n", "qa", "broker-a", "-c", "qpidd", "--", "qpid-config", "queues"}
	if !slices.Equal(ex.Args(), want) {
		t.Fatalf("got %q, want %q", ex.Args(), want)
	}
	opts := rec.opts[0]
	if opts.Container != "qpidd" || !opts.Stdout || !opts.Stderr || opts.Stdin || opts.TTY {
		t.Fatalf("unexpected exec options %+v", opts)
	}
	if ex.ExitCode() != 0 {
		t.Fatalf("unexpected exit code %d", ex.ExitCode())
	}
}

func TestExecuteWrapsDirAndEnv(t *testing.T) {
	e, rec := newExecutor(t, kubernetes.Config{Selector: "app=broker"}, &fakeStream{},
		pod("broker-a", corev1.PodRunning, brokerLabels))

	run(t, e, command.New([]string{"ls"}, command.WithDir("/var/lib/qpidd"), command.WithEnv("X=1")))

	want := []string{"sh", "-c", "cd '/var/lib/qpidd' && env 'X=1' 'ls'"}
	if got := rec.opts[0].Command; !slices.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	exitErr := utilexec.CodeExitError{Err: fmt.Errorf("command terminated with exit code 3"), Code: 3}
	e, _ := newExecutor(t, kubernetes.Config{Selector: "app=broker"}, &fakeStream{err: exitErr},
		pod("broker-a", corev1.PodRunning, brokerLabels))

	ex := run(t, e, command.New([]string{"false"}))
	if ex.CompletedSuccessfully() || ex.ExitCode() != 3 {
		t.Fatalf("expected exit code 3, got %s %d", ex.State(), ex.ExitCode())
	}
	if !errors.IsCode(ex.Err(), errors.ErrCodeNonZeroExit) {
		t.Fatalf("expected NON_ZERO_EXIT, got %v", ex.Err())
	}
}

func TestExecuteBrokenStream(t *testing.T) {
	e, _ := newExecutor(t, kubernetes.Config{Selector: "app=broker"}, &fakeStream{err: fmt.Errorf("connection reset")},
		pod("broker-a", corev1.PodRunning, brokerLabels))

	ex := run(t, e, command.New([]string{"true"}))
	if ex.ExitCode() != -1 || ex.CompletedSuccessfully() {
		t.Fatalf("a broken stream is not a success, got %s %d", ex.State(), ex.ExitCode())
	}
}

func TestExecuteTimeout(t *testing.T) {
	e, _ := newExecutor(t, kubernetes.Config{Selector: "app=broker"}, &fakeStream{stdout: "partial", block: true},
		pod("broker-a", corev1.PodRunning, brokerLabels))

	start := time.Now()
	ex := run(t, e, command.New([]string{"sleep", "60"}, command.WithTimeout(100*time.Millisecond)))
	if !ex.TimedOut() || ex.IsRunning() {
		t.Fatalf("expected timed out, got %s", ex.State())
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced promptly: %v", time.Since(start))
	}
	if ex.ReadStdout() != "partial" {
		t.Fatalf("partial output lost: %q", ex.ReadStdout())
	}
}

func TestExecuteInterrupt(t *testing.T) {
	e, _ := newExecutor(t, kubernetes.Config{Selector: "app=broker"}, &fakeStream{block: true},
		pod("broker-a", corev1.PodRunning, brokerLabels))

	ex, err := e.Execute(context.Background(), command.New([]string{"sleep", "60"}, command.WithStdout(false)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	ex.Interrupt()
	<-ex.Done()
	if !ex.Interrupted() || ex.ReadStdout() != "" {
		t.Fatalf("expected interrupted without output, got %s %q", ex.State(), ex.ReadStdout())
	}
}

func TestFactoryAlias(t *testing.T) {
	pool := testutil.Pool(t)
	cfg := kubernetes.Config{Host: "https://127.0.0.1:6443", Token: "t", Insecure: true, Selector: "app=broker"}
	e, err := executor.New("pod", cfg, executor.Env{Pool: pool, Log: logger.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Name() != executor.BackendKubernetes {
		t.Fatalf("unexpected backend %q", e.Name())
	}

	if _, err := executor.New("k8s", &kubernetes.Config{Host: "https://127.0.0.1:6443"}, executor.Env{Pool: pool}); !errors.IsCode(err, errors.ErrCodeLaunchFailure) {
		t.Fatalf("expected LAUNCH_FAILURE without selector, got %v", err)
	}
}
