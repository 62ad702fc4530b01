// Package command describes one invocation independently of where it runs.
//
// A Command is built once and may be handed to any number of executors. The
// argument vector is copied on construction and on every read, so a backend
// that wraps it (ssh, docker exec, ansible) always derives a new vector.
//
// Hooks registered on a Command are never run by the Command itself. The
// execution that owns the invocation calls OnPreExecution, OnPostExecution,
// OnTimeout and OnInterrupt at the matching lifecycle point, and each fans
// out to the registered hooks in registration order.
package command
