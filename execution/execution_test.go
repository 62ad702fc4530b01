package execution_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeHandle exits when told to, or with exit code -15 when terminated.
type fakeHandle struct {
	once   sync.Once
	done   chan struct{}
	code   atomic.Int64
	stdout []byte
	terms  atomic.Int32
}

func newFakeHandle(stdout string) *fakeHandle {
	return &fakeHandle{done: make(chan struct{}), stdout: []byte(stdout)}
}

func (h *fakeHandle) exit(code int) {
	h.once.Do(func() {
		h.code.Store(int64(code))
		close(h.done)
	})
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) ExitCode() int         { return int(h.code.Load()) }
func (h *fakeHandle) Terminate() error {
	h.terms.Add(1)
	h.exit(-15)
	return nil
}
func (h *fakeHandle) Stdout() []byte { return h.stdout }
func (h *fakeHandle) Stderr() []byte { return nil }

func startFake(cmd *command.Command, h *fakeHandle) execution.Execution {
	return execution.Start(context.Background(), cmd, execution.Options{
		Backend: "fake",
		Args:    cmd.Args(),
		Launch:  func(context.Context) (execution.Handle, error) { return h, nil },
		Log:     logger.NewNop(),
	})
}

func startLocal(t *testing.T, cmd *command.Command) execution.Execution {
	t.Helper()
	pool, err := process.NewPool(process.PoolConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Drain(context.Background()) })

	return execution.Start(context.Background(), cmd, execution.Options{
		Backend: "local",
		Args:    cmd.Args(),
		Launch: func(context.Context) (execution.Handle, error) {
			p, err := pool.Start(process.Spec{
				Args:          cmd.Args(),
				CaptureStdout: cmd.CaptureStdout(),
				CaptureStderr: cmd.CaptureStderr(),
			})
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Log: logger.NewNop(),
	})
}

func wait(t *testing.T, e execution.Execution, within time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("execution did not settle within %v (state %s)", within, e.State())
	}
	select {
	case <-e.Done():
	case <-ctx.Done():
		t.Fatalf("post-exec hooks did not return within %v", within)
	}
}

func TestCompletesWithinTimeout(t *testing.T) {
	e := startLocal(t, command.New([]string{"sleep", "1"}, command.WithTimeout(5*time.Second)))
	if !e.IsRunning() {
		t.Fatalf("expected running, got %s", e.State())
	}
	wait(t, e, 5*time.Second)

	if !e.CompletedSuccessfully() {
		t.Fatalf("expected success, got state %s exit %d", e.State(), e.ExitCode())
	}
	if e.TimedOut() || e.Interrupted() || e.Failure() {
		t.Fatal("no flag should be set on a clean completion")
	}
	if err := e.Err(); err != nil {
		t.Fatalf("expected nil Err, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	cmd := command.New([]string{"sleep", "5"}, command.WithTimeout(time.Second))
	var fired atomic.Int32
	cmd.AddTimeoutCallback(func(context.Context, command.Event) { fired.Add(1) })

	start := time.Now()
	e := startLocal(t, cmd)
	wait(t, e, 4*time.Second)

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
	if !e.TimedOut() || e.IsRunning() {
		t.Fatalf("expected timed out, got %s", e.State())
	}
	if e.CompletedSuccessfully() {
		t.Fatal("a timed out execution is never successful")
	}
	if !errors.IsCode(e.Err(), errors.ErrCodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", e.Err())
	}
	if e.ExitCode() != -15 {
		t.Fatalf("expected SIGTERM exit code, got %d", e.ExitCode())
	}
	if n := fired.Load(); n != 1 {
		t.Fatalf("timeout callback ran %d times", n)
	}
}

func TestNonZeroExit(t *testing.T) {
	e := startLocal(t, command.New([]string{"false"}))
	wait(t, e, 5*time.Second)

	if e.CompletedSuccessfully() {
		t.Fatal("false must not complete successfully")
	}
	if e.State() != execution.Completed || e.ExitCode() != 1 {
		t.Fatalf("expected completed with 1, got %s %d", e.State(), e.ExitCode())
	}
	if e.TimedOut() {
		t.Fatal("unexpected timeout flag")
	}
	if !errors.IsCode(e.Err(), errors.ErrCodeNonZeroExit) {
		t.Fatalf("expected NON_ZERO_EXIT, got %v", e.Err())
	}
}

func TestInterrupt(t *testing.T) {
	cmd := command.New([]string{"sleep", "10"})
	var interrupted atomic.Int32
	cmd.AddInterruptCallback(func(context.Context, command.Event) { interrupted.Add(1) })

	e := startLocal(t, cmd)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	e.Interrupt()
	e.Interrupt()
	wait(t, e, 3*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("interrupt took too long: %v", elapsed)
	}

	if !e.Interrupted() || e.CompletedSuccessfully() {
		t.Fatalf("expected interrupted, got %s", e.State())
	}
	if !errors.IsCode(e.Err(), errors.ErrCodeInterrupted) {
		t.Fatalf("expected INTERRUPTED, got %v", e.Err())
	}
	if n := interrupted.Load(); n != 1 {
		t.Fatalf("interrupt callback ran %d times", n)
	}

	e.Interrupt()
	if e.State() != execution.Interrupted {
		t.Fatal("interrupt on a terminal execution must be a no-op")
	}
}

func TestInterruptAfterCompletionIsNoop(t *testing.T) {
	h := newFakeHandle("")
	cmd := command.New([]string{"true"})
	var interrupted bool
	cmd.AddInterruptCallback(func(context.Context, command.Event) { interrupted = true })

	e := startFake(cmd, h)
	h.exit(0)
	wait(t, e, time.Second)

	e.Interrupt()
	if e.State() != execution.Completed || interrupted {
		t.Fatalf("expected untouched completion, got %s interrupted=%v", e.State(), interrupted)
	}
	if h.terms.Load() != 0 {
		t.Fatal("terminal execution must not terminate its handle")
	}
	if err := e.Terminate(); err != nil {
		t.Fatalf("Terminate on terminal execution: %v", err)
	}
}

func TestOutputCapture(t *testing.T) {
	e := startLocal(t, command.New([]string{"sh", "-c", "echo one; echo two; echo oops >&2"}))
	wait(t, e, 5*time.Second)

	first, second := e.ReadStdout(), e.ReadStdout()
	if first != "one\ntwo\n" || first != second {
		t.Fatalf("unexpected stdout %q / %q", first, second)
	}
	if got := e.StdoutLines(); !slices.Equal(got, []string{"one", "two"}) {
		t.Fatalf("unexpected lines %q", got)
	}
	if got := e.StderrLines(); !slices.Equal(got, []string{"oops"}) {
		t.Fatalf("unexpected stderr lines %q", got)
	}
}

func TestOutputNotCaptured(t *testing.T) {
	e := startLocal(t, command.New([]string{"echo", "hidden"}, command.WithStdout(false), command.WithStderr(false)))
	wait(t, e, 5*time.Second)

	if e.ReadStdout() != "" || e.ReadStderr() != "" {
		t.Fatal("uncaptured streams must read empty")
	}
	if e.StdoutLines() != nil {
		t.Fatal("uncaptured streams have no lines")
	}
}

func TestOutputFrozenAtSettle(t *testing.T) {
	h := newFakeHandle("before\n")
	e := startFake(command.New([]string{"x"}), h)
	if got := e.ReadStdout(); got != "before\n" {
		t.Fatalf("live read = %q", got)
	}
	h.exit(0)
	wait(t, e, time.Second)

	h.stdout = []byte("before\nafter\n")
	if got := e.ReadStdout(); got != "before\n" {
		t.Fatalf("output grew after settle: %q", got)
	}
}

func TestLaunchFailure(t *testing.T) {
	cmd := command.New([]string{"x"})
	var post []command.Event
	cmd.AddPostExecHook(func(_ context.Context, ev command.Event) { post = append(post, ev) })

	e := execution.Start(context.Background(), cmd, execution.Options{
		Backend: "fake",
		Launch: func(context.Context) (execution.Handle, error) {
			return nil, fmt.Errorf("no such binary")
		},
		Log: logger.NewNop(),
	})

	select {
	case <-e.Done():
	default:
		t.Fatal("a failed launch is settled immediately")
	}
	if !e.Failure() || e.State() != execution.Failed || e.IsRunning() {
		t.Fatalf("expected failed, got %s", e.State())
	}
	if e.TimedOut() || e.Interrupted() || e.CompletedSuccessfully() {
		t.Fatal("a failed launch sets no other flag")
	}
	if !errors.IsCode(e.Err(), errors.ErrCodeLaunchFailure) {
		t.Fatalf("expected LAUNCH_FAILURE, got %v", e.Err())
	}
	if e.ExitCode() != -1 || e.ReadStdout() != "" {
		t.Fatal("nothing ran, nothing to report")
	}
	e.Interrupt()
	if len(post) != 1 || post[0].Err == nil || post[0].Stage != command.StagePostExec {
		t.Fatalf("unexpected post hooks %+v", post)
	}
}

func TestUnknownEncodingFailsLaunch(t *testing.T) {
	launched := false
	e := execution.Start(context.Background(), command.New([]string{"x"}, command.WithEncoding("no-such-charset")), execution.Options{
		Backend: "fake",
		Launch: func(context.Context) (execution.Handle, error) {
			launched = true
			return newFakeHandle(""), nil
		},
		Log: logger.NewNop(),
	})
	if !e.Failure() || launched {
		t.Fatalf("expected failure before launch, got %s launched=%v", e.State(), launched)
	}
	if err := execution.CheckEncoding("ISO-8859-1"); err != nil {
		t.Fatalf("latin1 should be known: %v", err)
	}
}

func TestDecoding(t *testing.T) {
	h := newFakeHandle("caf\xe9\n")
	e := startFake(command.New([]string{"x"}, command.WithEncoding("ISO-8859-1")), h)
	h.exit(0)
	wait(t, e, time.Second)

	if got := e.ReadStdout(); got != "café\n" {
		t.Fatalf("expected decoded output, got %q", got)
	}
}

func TestHookOrderAndEvents(t *testing.T) {
	cmd := command.New([]string{"sh", "-c", "exit 3"})
	var mu sync.Mutex
	var stages []command.Stage
	record := func(_ context.Context, ev command.Event) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, ev.Stage)
		if ev.Stage == command.StagePostExec && ev.ExitCode != 3 {
			t.Errorf("post hook saw exit code %d", ev.ExitCode)
		}
		if ev.ExecutionID == "" || ev.Backend != "local" {
			t.Errorf("incomplete event %+v", ev)
		}
	}
	cmd.AddPreExecHook(record)
	cmd.AddPostExecHook(record)

	e := startLocal(t, cmd)
	wait(t, e, 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(stages, []command.Stage{command.StagePreExec, command.StagePostExec}) {
		t.Fatalf("unexpected hook order %v", stages)
	}
}

func TestHooksCanWaitOnTheirExecution(t *testing.T) {
	var self execution.Execution
	ready := make(chan struct{})
	waitErrs := make(chan error, 2)
	waitFromHook := func(context.Context, command.Event) {
		<-ready
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		waitErrs <- self.Wait(ctx)
	}
	cmd := command.New([]string{"x"})
	cmd.AddInterruptCallback(waitFromHook)
	cmd.AddPostExecHook(waitFromHook)

	h := newFakeHandle("")
	self = startFake(cmd, h)
	close(ready)
	self.Interrupt()
	wait(t, self, 3*time.Second)

	for range 2 {
		if err := <-waitErrs; err != nil {
			t.Fatalf("Wait from a hook: %v", err)
		}
	}
	if !self.Interrupted() {
		t.Fatalf("expected interrupted, got %s", self.State())
	}
}

func TestTimeoutCallbackCanWait(t *testing.T) {
	var self atomic.Pointer[execution.Execution]
	waitErr := make(chan error, 1)
	cmd := command.New([]string{"x"}, command.WithTimeout(20*time.Millisecond))
	cmd.AddTimeoutCallback(func(context.Context, command.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for self.Load() == nil {
			time.Sleep(time.Millisecond)
		}
		waitErr <- (*self.Load()).Wait(ctx)
	})

	e := startFake(cmd, newFakeHandle(""))
	self.Store(&e)
	wait(t, e, 3*time.Second)

	if err := <-waitErr; err != nil {
		t.Fatalf("Wait from a timeout callback: %v", err)
	}
	if !e.TimedOut() {
		t.Fatalf("expected timed out, got %s", e.State())
	}
}

func TestHookPanicIsRecovered(t *testing.T) {
	cmd := command.New([]string{"x"})
	cmd.AddPostExecHook(func(context.Context, command.Event) { panic("boom") })

	h := newFakeHandle("")
	e := startFake(cmd, h)
	h.exit(0)
	wait(t, e, time.Second)

	if !e.CompletedSuccessfully() {
		t.Fatalf("hook panic must not change the outcome, got %s", e.State())
	}
}

func TestTimeoutRacesCompletion(t *testing.T) {
	for i := range 200 {
		h := newFakeHandle("")
		e := startFake(command.New([]string{"x"}, command.WithTimeout(time.Millisecond)), h)
		time.Sleep(time.Duration(i%3) * 500 * time.Microsecond)
		h.exit(0)
		wait(t, e, time.Second)

		switch e.State() {
		case execution.Completed:
			if e.TimedOut() {
				t.Fatal("completed execution reports timed out")
			}
		case execution.TimedOut:
			if e.CompletedSuccessfully() {
				t.Fatal("timed out execution reports success")
			}
		default:
			t.Fatalf("unexpected state %s", e.State())
		}
	}
}

func TestResult(t *testing.T) {
	h := newFakeHandle("out\n")
	e := startFake(command.New([]string{"x"}), h)
	h.exit(0)
	wait(t, e, time.Second)

	r := e.Result()
	if !r.Success() || r.Stdout != "out\n" || r.ID != e.ID() || r.Backend != "fake" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestStreamHandle(t *testing.T) {
	streamErr := stderrors.New("stream closed")
	h := execution.StartStream(context.Background(), func(ctx context.Context, stdout, stderr io.Writer) error {
		_, _ = io.WriteString(stdout, "partial ")
		_, _ = io.WriteString(stderr, "warn")
		<-ctx.Done()
		_, _ = io.WriteString(stdout, "tail")
		return streamErr
	}, true, false, func(err error) int {
		if stderrors.Is(err, streamErr) {
			return 137
		}
		return 0
	})

	e := execution.Start(context.Background(), command.New([]string{"x"}), execution.Options{
		Backend: "stream",
		Launch:  func(context.Context) (execution.Handle, error) { return h, nil },
		Log:     logger.NewNop(),
	})
	e.Interrupt()
	wait(t, e, time.Second)

	if e.ExitCode() != 137 || !e.Interrupted() {
		t.Fatalf("unexpected outcome %s %d", e.State(), e.ExitCode())
	}
	if got := e.ReadStdout(); got != "partial tail" {
		t.Fatalf("unexpected stdout %q", got)
	}
	if got := string(h.Stderr()); got != "" {
		t.Fatalf("stderr was not captured, got %q", got)
	}
	if !stderrors.Is(h.Err(), streamErr) {
		t.Fatalf("unexpected stream error %v", h.Err())
	}
}

func TestStateString(t *testing.T) {
	tests := map[execution.State]string{
		execution.Created:     "created",
		execution.Running:     "running",
		execution.Completed:   "completed",
		execution.TimedOut:    "timed_out",
		execution.Interrupted: "interrupted",
		execution.Failed:      "failed",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
		if s.Terminal() != (s >= execution.Completed) {
			t.Errorf("%s terminal mismatch", s)
		}
	}
}
