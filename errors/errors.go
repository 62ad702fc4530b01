package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// AppError is the unified execkit error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if a caller may retry the operation.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another *AppError by code, so errors.Is(err, errors.Timeout(0))
// holds for any timeout.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Execution outcomes ---

// LaunchFailure reports that backend could not start an invocation. No
// process or channel exists when this error is returned.
func LaunchFailure(backend string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeLaunchFailure, Message: fmt.Sprintf("%s backend could not launch the command", backend),
		Details: map[string]any{"backend": backend}, Cause: cause,
	}
}

// Timeout reports that an execution exceeded its deadline and was terminated.
func Timeout(after time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("execution timed out after %s", after),
		Retryable: true, Details: map[string]any{"timeout": after.String()},
	}
}

// Interrupted reports a caller-requested cancellation.
func Interrupted() *AppError {
	return &AppError{Code: ErrCodeInterrupted, Message: "execution interrupted"}
}

// NonZeroExit reports a process that ran to completion with a failure code.
func NonZeroExit(code int) *AppError {
	return &AppError{
		Code: ErrCodeNonZeroExit, Message: fmt.Sprintf("process exited with code %d", code),
		Details: map[string]any{"exit_code": code},
	}
}

// --- Input and resource errors ---

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid input: %s", reason),
		Details: details,
	}
}

// MissingField creates a new AppError for a missing required field.
func MissingField(field string) *AppError {
	return &AppError{
		Code: ErrCodeMissingField, Message: fmt.Sprintf("missing required field: %s", field),
		Details: map[string]any{"field": field},
	}
}

// UnsupportedBackend reports that no executor is registered under name.
func UnsupportedBackend(name string) *AppError {
	return &AppError{
		Code: ErrCodeUnsupportedBackend, Message: fmt.Sprintf("unsupported backend %q (not registered)", name),
		Details: map[string]any{"backend": name},
	}
}

// NotFound creates a new AppError for a target that does not exist.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource),
		Details: details,
	}
}

// Internal creates a new AppError for an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: "unexpected internal error", Cause: cause}
}

// --- Inspection helpers ---

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is, or wraps, an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
