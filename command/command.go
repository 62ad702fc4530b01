package command

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	goerrors "github.com/kbukum/execkit/errors"
)

// DefaultEncoding is the text encoding used to decode captured output.
const DefaultEncoding = "utf-8"

// Stage identifies the lifecycle point a hook is called at.
type Stage string

const (
	StagePreExec   Stage = "pre_exec"
	StagePostExec  Stage = "post_exec"
	StageTimeout   Stage = "timeout"
	StageInterrupt Stage = "interrupt"
)

// Event is passed to every hook.
type Event struct {
	Stage       Stage
	ExecutionID string
	Backend     string
	// Args is the effective vector launched by the backend.
	Args []string
	// ExitCode is only meaningful for StagePostExec.
	ExitCode int
	// Err is the execution classification at StagePostExec (nil on success).
	Err error
}

// Hook reacts to one lifecycle point of an execution.
type Hook func(ctx context.Context, ev Event)

// Command is a reusable description of one invocation.
type Command struct {
	args          []string
	captureStdout bool
	captureStderr bool
	timeout       time.Duration
	encoding      string
	daemon        bool
	dir           string
	env           []string
	stdin         io.Reader

	mu        sync.RWMutex
	preExec   []Hook
	postExec  []Hook
	onTimeout []Hook
	onIntr    []Hook
}

// Option configures a Command at construction.
type Option func(*Command)

// WithStdout toggles standard output capture. Enabled by default.
func WithStdout(capture bool) Option {
	return func(c *Command) { c.captureStdout = capture }
}

// WithStderr toggles standard error capture. Enabled by default.
func WithStderr(capture bool) Option {
	return func(c *Command) { c.captureStderr = capture }
}

// WithTimeout sets the execution deadline. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Command) { c.timeout = d }
}

// WithEncoding sets the IANA name of the encoding used to decode output.
func WithEncoding(name string) Option {
	return func(c *Command) { c.encoding = name }
}

// AsDaemon marks the command as one the caller does not await.
func AsDaemon() Option {
	return func(c *Command) { c.daemon = true }
}

// WithDir sets the working directory for backends that spawn a local process.
func WithDir(dir string) Option {
	return func(c *Command) { c.dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment of a local process.
func WithEnv(kv ...string) Option {
	return func(c *Command) { c.env = append(c.env, kv...) }
}

// WithStdin feeds r to the launched process or stream.
func WithStdin(r io.Reader) Option {
	return func(c *Command) { c.stdin = r }
}

// New creates a Command. Constructing a Command has no side effects.
func New(args []string, opts ...Option) *Command {
	c := &Command{
		args:          slices.Clone(args),
		captureStdout: true,
		captureStderr: true,
		encoding:      DefaultEncoding,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate reports whether the command can be executed.
func (c *Command) Validate() error {
	if len(c.args) == 0 {
		return goerrors.MissingField("args")
	}
	if c.args[0] == "" {
		return goerrors.InvalidInput("args", "program name is empty")
	}
	if c.timeout < 0 {
		return goerrors.InvalidInput("timeout", fmt.Sprintf("negative timeout %s", c.timeout))
	}
	return nil
}

// Args returns a copy of the argument vector.
func (c *Command) Args() []string { return slices.Clone(c.args) }

// CaptureStdout reports whether standard output is captured.
func (c *Command) CaptureStdout() bool { return c.captureStdout }

// CaptureStderr reports whether standard error is captured.
func (c *Command) CaptureStderr() bool { return c.captureStderr }

// Timeout returns the execution deadline; zero means none.
func (c *Command) Timeout() time.Duration { return c.timeout }

// Encoding returns the output encoding name.
func (c *Command) Encoding() string { return c.encoding }

// Daemon reports whether the caller does not await completion.
func (c *Command) Daemon() bool { return c.daemon }

// Dir returns the working directory, empty for the current one.
func (c *Command) Dir() string { return c.dir }

// Env returns a copy of the extra environment.
func (c *Command) Env() []string { return slices.Clone(c.env) }

// Stdin returns the input reader, or nil.
func (c *Command) Stdin() io.Reader { return c.stdin }

// String renders the vector for logs.
func (c *Command) String() string { return fmt.Sprintf("%q", c.args) }

// AddPreExecHook registers a hook run before the backend launches the command.
func (c *Command) AddPreExecHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preExec = append(c.preExec, h)
}

// AddPostExecHook registers a hook run once an execution reaches a terminal state.
func (c *Command) AddPostExecHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postExec = append(c.postExec, h)
}

// AddTimeoutCallback registers a hook run when the deadline fires.
func (c *Command) AddTimeoutCallback(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTimeout = append(c.onTimeout, h)
}

// AddInterruptCallback registers a hook run when the caller interrupts an execution.
func (c *Command) AddInterruptCallback(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIntr = append(c.onIntr, h)
}

// OnPreExecution runs the pre-exec hooks in registration order.
func (c *Command) OnPreExecution(ctx context.Context, ev Event) {
	ev.Stage = StagePreExec
	fanOut(ctx, c.hooks(&c.preExec), ev)
}

// OnPostExecution runs the post-exec hooks in registration order.
func (c *Command) OnPostExecution(ctx context.Context, ev Event) {
	ev.Stage = StagePostExec
	fanOut(ctx, c.hooks(&c.postExec), ev)
}

// OnTimeout runs the timeout callbacks in registration order.
func (c *Command) OnTimeout(ctx context.Context, ev Event) {
	ev.Stage = StageTimeout
	fanOut(ctx, c.hooks(&c.onTimeout), ev)
}

// OnInterrupt runs the interrupt callbacks in registration order.
func (c *Command) OnInterrupt(ctx context.Context, ev Event) {
	ev.Stage = StageInterrupt
	fanOut(ctx, c.hooks(&c.onIntr), ev)
}

// hooks snapshots a hook list so hooks may register further hooks without deadlocking.
func (c *Command) hooks(list *[]Hook) []Hook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(*list)
}

func fanOut(ctx context.Context, hooks []Hook, ev Event) {
	for _, h := range hooks {
		h(ctx, ev)
	}
}
