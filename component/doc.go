// Package component manages the lifecycle of run-scoped resources.
//
// A run context (see package session) registers the resources it owns, such
// as the process pool and telemetry providers, and stops them in reverse
// registration order when the run ends.
package component
