package process

import "time"

// Result holds the output and status of a completed subprocess.
type Result struct {
	// PID is the process id the subprocess ran under.
	PID int
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
	// ExitCode is the process exit code, or the negative signal number if
	// the process was killed by a signal.
	ExitCode int
	// Duration is how long the process ran.
	Duration time.Duration
}
