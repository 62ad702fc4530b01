// Package process owns local OS subprocesses.
//
// Every process is started through a Pool, which records it in an
// append-only list. The Pool belongs to the top-level run context and is
// drained exactly once when that context ends: each process still alive is
// sent SIGTERM, polled for a bounded number of attempts and then killed, so
// brokers, routers and clients spawned by a test run never outlive it.
//
// Processes run in their own process group; terminating a Process signals
// the whole group so shell wrappers do not leave orphans behind.
package process
