// Package execution tracks one command running through one backend.
//
// An Execution is created by an executor. It launches its backend resource
// (a local process or a remote stream), monitors it on its own goroutine and
// settles exactly once into a terminal state:
//
//	Created -> Running -> Completed | TimedOut | Interrupted
//	Created -> Failed
//
// Timeouts and interrupts terminate the resource; the execution still waits
// for the resource to exit before settling, so the exit code is always the
// one the resource reported. Captured output is readable while running and
// frozen once the execution settles.
package execution
