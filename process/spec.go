package process

import (
	"io"
	"time"
)

// Spec configures a subprocess to start.
type Spec struct {
	// Args is the full vector; Args[0] is resolved via PATH.
	Args []string
	// Dir is the working directory. If empty, uses the current directory.
	Dir string
	// Env is additional environment variables (key=value). Merged with os.Environ.
	Env []string
	// Stdin provides input to the process. May be nil.
	Stdin io.Reader
	// CaptureStdout and CaptureStderr select which streams are buffered.
	// Uncaptured streams are discarded.
	CaptureStdout bool
	CaptureStderr bool
	// GracePeriod is how long Terminate waits after SIGTERM before SIGKILL.
	// Zero uses the pool default.
	GracePeriod time.Duration
}
