// Package timeout provides a cancellable deadline that fires its callbacks at
// most once.
//
// A Callback is armed on construction and resolves exactly once, either as
// timed out (the deadline elapsed first) or as interrupted (Interrupt was
// called first). The resolution is decided under a mutex, so an Interrupt that
// returns true guarantees no callback will ever run.
package timeout

import (
	"fmt"
	"sync"
	"time"

	goerrors "github.com/kbukum/execkit/errors"
)

// Resolution is the outcome of a Callback.
type Resolution int

const (
	Pending Resolution = iota
	TimedOut
	Interrupted
)

func (r Resolution) String() string {
	switch r {
	case Pending:
		return "pending"
	case TimedOut:
		return "timed_out"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// Callback runs fns once after a deadline unless interrupted first.
type Callback struct {
	after time.Duration
	fns   []func()

	mu         sync.Mutex
	resolution Resolution

	cancel chan struct{}
	done   chan struct{}
}

// New arms a Callback that runs fns, in order, once d elapses.
func New(d time.Duration, fns ...func()) (*Callback, error) {
	if d <= 0 {
		return nil, goerrors.InvalidInput("timeout", fmt.Sprintf("duration must be positive, got %s", d))
	}
	c := &Callback{
		after:  d,
		fns:    fns,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (c *Callback) run() {
	defer close(c.done)

	timer := time.NewTimer(c.after)
	defer timer.Stop()

	select {
	case <-c.cancel:
		return
	case <-timer.C:
	}

	if !c.resolve(TimedOut) {
		return
	}
	for _, fn := range c.fns {
		fn()
	}
}

// resolve sets the resolution if still pending and reports whether it did.
func (c *Callback) resolve(r Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolution != Pending {
		return false
	}
	c.resolution = r
	return true
}

// Interrupt cancels the deadline. It returns true if the cancellation won, in
// which case no callback will run; false if the Callback had already resolved.
func (c *Callback) Interrupt() bool {
	if !c.resolve(Interrupted) {
		return false
	}
	close(c.cancel)
	return true
}

// Done is closed once the Callback resolved and, when it timed out, after
// every callback returned.
func (c *Callback) Done() <-chan struct{} { return c.done }

// After returns the armed duration.
func (c *Callback) After() time.Duration { return c.after }

// Resolution returns the current resolution.
func (c *Callback) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolution
}

// TimedOut reports whether the deadline won.
func (c *Callback) TimedOut() bool { return c.Resolution() == TimedOut }

// Interrupted reports whether Interrupt won.
func (c *Callback) Interrupted() bool { return c.Resolution() == Interrupted }
