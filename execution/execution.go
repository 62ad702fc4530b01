package execution

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/timeout"
)

// Execution is the live or finished handle of one command run through one
// backend.
type Execution interface {
	// ID uniquely identifies the execution in logs and hook events.
	ID() string
	// Command returns the originating command.
	Command() *command.Command
	// Backend names the executor that produced the execution.
	Backend() string
	// Args returns the effective vector the backend launched.
	Args() []string

	// State returns the current lifecycle state.
	State() State
	// Done is closed once the execution is terminal and post-exec hooks returned.
	Done() <-chan struct{}
	// Wait blocks until the execution is terminal or ctx is done. It only
	// returns ctx's error; use Err for the outcome. Post-exec hooks may still
	// be running when it returns, so hooks can wait on their own execution.
	Wait(ctx context.Context) error
	IsRunning() bool

	// CompletedSuccessfully is true iff the execution completed with exit code 0.
	CompletedSuccessfully() bool
	// ExitCode is the exit status, -1 while running or when nothing was launched.
	ExitCode() int
	TimedOut() bool
	Interrupted() bool
	// Failure reports a launch failure.
	Failure() bool
	// Err classifies a terminal execution: LAUNCH_FAILURE, TIMEOUT,
	// INTERRUPTED or NON_ZERO_EXIT. It is nil on success and while running.
	Err() error

	// Interrupt terminates a running execution on behalf of the caller. It is
	// a no-op once the execution is terminal or already being stopped.
	Interrupt()
	// Terminate forcibly stops the backend resource without marking a cause.
	Terminate() error

	// ReadStdout and ReadStderr return the captured output so far, or the
	// empty string when the stream is not captured.
	ReadStdout() string
	ReadStderr() string
	StdoutLines() []string
	StderrLines() []string

	StartedAt() time.Time
	Duration() time.Duration
	// Result summarizes the execution. It is final once Done is closed.
	Result() Result
}

// Result is a snapshot of an execution's outcome.
type Result struct {
	ID          string
	Backend     string
	Args        []string
	State       State
	ExitCode    int
	Stdout      string
	Stderr      string
	TimedOut    bool
	Interrupted bool
	Failure     bool
	Duration    time.Duration
	Err         error
}

// Success reports whether the result is a clean completion.
func (r Result) Success() bool {
	return r.State == Completed && r.ExitCode == 0
}

// Options configures Start.
type Options struct {
	// Backend is the executor name recorded on the execution.
	Backend string
	// Args is the effective vector the backend launches.
	Args []string
	// Launch starts the backend resource.
	Launch Launcher
	// Log receives lifecycle events. Nil uses the global logger.
	Log *logger.Logger
}

type execution struct {
	id      string
	cmd     *command.Command
	backend string
	args    []string
	enc     encoding.Encoding
	log     *logger.Logger
	hookCtx context.Context

	mu        sync.Mutex
	state     State
	cause     State
	exited    bool
	handle    Handle
	timer     *timeout.Callback
	startedAt time.Time
	duration  time.Duration
	exitCode  int
	launchErr error
	stdout    string
	stderr    string

	// stopping counts timeout and interrupt handlers still running; the
	// monitor waits for them before running post-exec hooks.
	stopping sync.WaitGroup
	settled  chan struct{}
	done     chan struct{}
}

// Start launches cmd through opts.Launch and returns immediately. A launch
// error yields an execution already settled as Failed.
func Start(ctx context.Context, cmd *command.Command, opts Options) Execution {
	log := opts.Log
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	id := uuid.NewString()
	hookCtx := logger.ContextWithExecutionID(context.WithoutCancel(ctx), id)

	e := &execution{
		id:       id,
		cmd:      cmd,
		backend:  opts.Backend,
		args:     slices.Clone(opts.Args),
		hookCtx:  hookCtx,
		exitCode: -1,
		settled:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.log = log.WithComponent(logger.ComponentExecution).WithContext(hookCtx).WithFields(map[string]interface{}{
		logger.FieldBackend: e.backend,
	})

	enc, err := lookupEncoding(cmd.Encoding())
	if err != nil {
		e.fail(errors.LaunchFailure(e.backend, err))
		return e
	}
	e.enc = enc

	e.runHooks(cmd.OnPreExecution, command.Event{})

	if opts.Launch == nil {
		e.fail(errors.LaunchFailure(e.backend, errors.MissingField("launcher")))
		return e
	}
	handle, err := opts.Launch(ctx)
	if err != nil {
		e.fail(launchError(e.backend, err))
		return e
	}

	e.mu.Lock()
	e.handle = handle
	e.state = Running
	e.startedAt = time.Now()
	if d := cmd.Timeout(); d > 0 {
		// d > 0 was checked, New cannot fail.
		e.timer, _ = timeout.New(d, e.onTimeout)
	}
	e.mu.Unlock()

	fields := map[string]interface{}{logger.FieldArgs: e.args}
	if p, ok := handle.(interface{ PID() int }); ok {
		fields[logger.FieldPID] = p.PID()
	}
	e.log.Info("execution started", fields)

	go e.monitor()
	return e
}

func (e *execution) monitor() {
	<-e.handle.Done()

	// Once exited is set no handler can record a cause, so the state is
	// final before the timeout and interrupt hooks return.
	e.mu.Lock()
	e.exited = true
	e.mu.Unlock()

	fired := e.timer != nil && !e.timer.Interrupt()
	code, err := e.settle()

	e.stopping.Wait()
	if fired {
		<-e.timer.Done()
	}
	e.finish(code, err)
}

// onTimeout runs on the timer goroutine when the deadline fires first.
func (e *execution) onTimeout() {
	if !e.beginStop(TimedOut) {
		return
	}
	defer e.stopping.Done()

	e.log.Warn("execution timed out", map[string]interface{}{"timeout": e.cmd.Timeout().String()})
	if err := e.handle.Terminate(); err != nil {
		e.log.Warn("terminate failed", map[string]interface{}{logger.FieldError: err.Error()})
	}
	e.runHooks(e.cmd.OnTimeout, command.Event{})
}

func (e *execution) Interrupt() {
	if !e.beginStop(Interrupted) {
		return
	}
	defer e.stopping.Done()

	if e.timer != nil {
		e.timer.Interrupt()
	}
	e.log.Info("execution interrupted")
	if err := e.handle.Terminate(); err != nil {
		e.log.Warn("terminate failed", map[string]interface{}{logger.FieldError: err.Error()})
	}
	e.runHooks(e.cmd.OnInterrupt, command.Event{})
}

// beginStop records cause if the execution is running and no other cause
// won. The caller must call stopping.Done when it returns true.
func (e *execution) beginStop(cause State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running || e.exited || e.cause != Created {
		return false
	}
	e.cause = cause
	e.stopping.Add(1)
	return true
}

func (e *execution) settle() (int, error) {
	e.mu.Lock()
	e.state = Completed
	if e.cause != Created {
		e.state = e.cause
	}
	e.exitCode = e.handle.ExitCode()
	e.duration = time.Since(e.startedAt)
	if e.cmd.CaptureStdout() {
		e.stdout = decode(e.enc, e.handle.Stdout())
	}
	if e.cmd.CaptureStderr() {
		e.stderr = decode(e.enc, e.handle.Stderr())
	}
	state, code, dur := e.state, e.exitCode, e.duration
	e.mu.Unlock()
	close(e.settled)

	e.log.Info("execution settled", map[string]interface{}{
		logger.FieldState:    state.String(),
		logger.FieldExitCode: code,
		logger.FieldDuration: dur.String(),
	})
	return code, e.Err()
}

// finish runs the post-exec hooks and closes done.
func (e *execution) finish(code int, err error) {
	e.runHooks(e.cmd.OnPostExecution, command.Event{ExitCode: code, Err: err})
	close(e.done)
}

// launchError attributes err to backend unless a backend already claimed it.
func launchError(backend string, err error) error {
	if app, ok := errors.AsAppError(err); ok && app.Code == errors.ErrCodeLaunchFailure && app.Details["backend"] != nil {
		return err
	}
	return errors.LaunchFailure(backend, err)
}

func (e *execution) fail(err error) {
	e.mu.Lock()
	e.state = Failed
	e.launchErr = err
	e.startedAt = time.Now()
	e.mu.Unlock()
	close(e.settled)

	e.log.Error("execution failed to launch", map[string]interface{}{
		logger.FieldArgs:  e.args,
		logger.FieldError: err.Error(),
	})
	e.finish(-1, err)
}

// runHooks fans out one hook stage. A panicking hook is logged and stops
// the remaining hooks of that stage only.
func (e *execution) runHooks(stage func(context.Context, command.Event), ev command.Event) {
	ev.ExecutionID = e.id
	ev.Backend = e.backend
	ev.Args = slices.Clone(e.args)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("hook panicked", map[string]interface{}{logger.FieldError: fmt.Sprint(r)})
		}
	}()
	stage(e.hookCtx, ev)
}

func (e *execution) ID() string                { return e.id }
func (e *execution) Command() *command.Command { return e.cmd }
func (e *execution) Backend() string           { return e.backend }
func (e *execution) Args() []string            { return slices.Clone(e.args) }
func (e *execution) Done() <-chan struct{}     { return e.done }

func (e *execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *execution) Wait(ctx context.Context) error {
	select {
	case <-e.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *execution) IsRunning() bool { return e.State() == Running }

func (e *execution) CompletedSuccessfully() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Completed && e.exitCode == 0
}

func (e *execution) ExitCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode
}

func (e *execution) TimedOut() bool    { return e.State() == TimedOut }
func (e *execution) Interrupted() bool { return e.State() == Interrupted }
func (e *execution) Failure() bool     { return e.State() == Failed }

func (e *execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Failed:
		return e.launchErr
	case TimedOut:
		return errors.Timeout(e.cmd.Timeout()).WithDetail("exit_code", e.exitCode)
	case Interrupted:
		return errors.Interrupted().WithDetail("exit_code", e.exitCode)
	case Completed:
		if e.exitCode != 0 {
			return errors.NonZeroExit(e.exitCode)
		}
	}
	return nil
}

func (e *execution) Terminate() error {
	e.mu.Lock()
	h, running := e.handle, e.state == Running
	e.mu.Unlock()
	if !running {
		return nil
	}
	return h.Terminate()
}

func (e *execution) ReadStdout() string {
	return e.read(e.cmd.CaptureStdout(), func(h Handle) []byte { return h.Stdout() }, &e.stdout)
}

func (e *execution) ReadStderr() string {
	return e.read(e.cmd.CaptureStderr(), func(h Handle) []byte { return h.Stderr() }, &e.stderr)
}

// read returns the frozen copy once terminal and a live snapshot before.
func (e *execution) read(captured bool, live func(Handle) []byte, frozen *string) string {
	if !captured {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() || e.handle == nil {
		return *frozen
	}
	return decode(e.enc, live(e.handle))
}

func (e *execution) StdoutLines() []string { return splitLines(e.ReadStdout()) }
func (e *execution) StderrLines() []string { return splitLines(e.ReadStderr()) }

func (e *execution) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

func (e *execution) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		return time.Since(e.startedAt)
	}
	return e.duration
}

func (e *execution) Result() Result {
	state := e.State()
	return Result{
		ID:          e.id,
		Backend:     e.backend,
		Args:        e.Args(),
		State:       state,
		ExitCode:    e.ExitCode(),
		Stdout:      e.ReadStdout(),
		Stderr:      e.ReadStderr(),
		TimedOut:    state == TimedOut,
		Interrupted: state == Interrupted,
		Failure:     state == Failed,
		Duration:    e.Duration(),
		Err:         e.Err(),
	}
}
