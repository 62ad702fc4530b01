package execution

import (
	"context"
	"io"
	"sync"

	"github.com/kbukum/execkit/process"
)

// Handle is the backend resource an execution monitors.
type Handle interface {
	// Done is closed once the resource has exited and its output is complete.
	Done() <-chan struct{}
	// ExitCode is the exit status, valid once Done is closed.
	ExitCode() int
	// Terminate asks the resource to stop. It must not block and must be
	// safe to call more than once.
	Terminate() error
	// Stdout and Stderr return snapshots of the output captured so far.
	Stdout() []byte
	Stderr() []byte
}

// Launcher starts the backend resource for one execution.
type Launcher func(ctx context.Context) (Handle, error)

// local processes are handles as they are.
var _ Handle = (*process.Process)(nil)

// StreamFunc runs a remote command, writing its output to stdout and stderr
// until it exits or ctx is canceled.
type StreamFunc func(ctx context.Context, stdout, stderr io.Writer) error

// StreamHandle runs a StreamFunc on its own goroutine. There is no local
// process behind it: output accumulates in append-only buffers and
// Terminate cancels the stream.
type StreamHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	stdout process.Buffer
	stderr process.Buffer

	mu       sync.Mutex
	exitCode int
	err      error
}

var _ Handle = (*StreamHandle)(nil)

// StartStream launches fn. exitCode maps the stream's final error to an exit
// status. The stream outlives the launch context; only Terminate stops it.
func StartStream(ctx context.Context, fn StreamFunc, captureStdout, captureStderr bool, exitCode func(error) int) *StreamHandle {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &StreamHandle{cancel: cancel, done: make(chan struct{}), exitCode: -1}

	var stdout, stderr io.Writer = io.Discard, io.Discard
	if captureStdout {
		stdout = &h.stdout
	}
	if captureStderr {
		stderr = &h.stderr
	}

	go func() {
		defer close(h.done)
		defer cancel()
		err := fn(sctx, stdout, stderr)
		h.mu.Lock()
		h.err = err
		h.exitCode = exitCode(err)
		h.mu.Unlock()
	}()
	return h
}

func (h *StreamHandle) Done() <-chan struct{} { return h.done }

func (h *StreamHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Err returns the error the stream ended with.
func (h *StreamHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *StreamHandle) Terminate() error {
	h.cancel()
	return nil
}

func (h *StreamHandle) Stdout() []byte { return h.stdout.Bytes() }
func (h *StreamHandle) Stderr() []byte { return h.stderr.Bytes() }
