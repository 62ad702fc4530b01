package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Execution outcome errors.
const (
	// ErrCodeLaunchFailure indicates a backend could not start the invocation at all.
	ErrCodeLaunchFailure ErrorCode = "LAUNCH_FAILURE"
	// ErrCodeTimeout indicates the command deadline was exceeded.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInterrupted indicates the caller cancelled the execution.
	ErrCodeInterrupted ErrorCode = "INTERRUPTED"
	// ErrCodeNonZeroExit indicates the process ran to completion with a failure code.
	ErrCodeNonZeroExit ErrorCode = "NON_ZERO_EXIT"
)

// Input errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMissingField indicates a required field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrCodeUnsupportedBackend indicates no executor is registered under a name.
	ErrCodeUnsupportedBackend ErrorCode = "UNSUPPORTED_BACKEND"
)

// Resource errors
const (
	// ErrCodeNotFound indicates a target (container, pod) was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:       true,
	ErrCodeLaunchFailure: false,
	ErrCodeInterrupted:   false,
	ErrCodeNonZeroExit:   false,
	ErrCodeInternal:      false,
}

// IsRetryableCode reports whether callers may reasonably retry an operation
// that failed with code. execkit itself never retries.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
