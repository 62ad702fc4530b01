// Package errors provides the structured error type shared by every execkit
// package. Each error carries a machine-readable code so callers can tell a
// launch failure from a timeout, an interruption or a non-zero exit without
// parsing messages.
package errors
