package refiner

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error is a classified failure attached to an iteration. Every failure class
// carries its own code and message so the reviewer and the operator can tell
// them apart.
type Error struct {
	// Code identifies the failure class
	Code ErrorCode

	// Message is the primary human-readable message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for the operator
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	// Deployment errors
	ErrorCodePortAllocationFailed ErrorCode = "PORT_ALLOCATION_FAILED"
	ErrorCodeProcessStartFailed   ErrorCode = "PROCESS_START_FAILED"
	ErrorCodeHealthCheckTimeout   ErrorCode = "HEALTH_CHECK_TIMEOUT"
	ErrorCodeTerminationFailed    ErrorCode = "TERMINATION_FAILED"
	ErrorCodeWorkspaceWriteFailed ErrorCode = "WORKSPACE_WRITE_FAILED"

	// Verification errors
	ErrorCodeCaptureFailed ErrorCode = "CAPTURE_FAILED"
	ErrorCodeArchiveFailed ErrorCode = "ARCHIVE_FAILED"

	// Collaborator errors
	ErrorCodeDependencyInstallFailed ErrorCode = "DEPENDENCY_INSTALL_FAILED"
	ErrorCodeCodeGenerationFailed    ErrorCode = "CODE_GENERATION_FAILED"
	ErrorCodeReviewFailed            ErrorCode = "REVIEW_FAILED"

	// Configuration errors
	ErrorCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
)

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Summary is the one-line form stored on iteration records.
func (e *Error) Summary() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// ErrPortAllocationFailed reports that no local port could be bound.
func ErrPortAllocationFailed(cause error) *Error {
	return NewError(ErrorCodePortAllocationFailed, "Port allocation failed").
		WithCause(cause).
		WithSuggestion("The next iteration allocates a fresh port. If this repeats, check for ephemeral port exhaustion: ss -s")
}

// ErrProcessStartFailed reports that the generated program could not be launched.
func ErrProcessStartFailed(program string, cause error) *Error {
	return NewError(ErrorCodeProcessStartFailed,
		fmt.Sprintf("Failed to start generated program '%s'", program)).
		WithContext("program", program).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Interpreter not installed or not on PATH\n" +
				"  2. Workspace directory not writable\n" +
				"  3. Insufficient permissions")
}

// ErrHealthCheckTimeout reports that the deployment never answered HTTP.
func ErrHealthCheckTimeout(address string, port int, deadline time.Duration, detail string) *Error {
	e := NewError(ErrorCodeHealthCheckTimeout,
		fmt.Sprintf("Server on port %d did not answer within %v", port, deadline)).
		WithContext("address", address).
		WithContext("port", port).
		WithSuggestion(fmt.Sprintf(
			"The program must read its port from the environment and bind 0.0.0.0. Check manually:\n"+
				"  curl %s", address))
	if detail != "" {
		e.WithContext("probe", detail)
	}
	return e
}

// ErrCaptureFailed reports that the screenshot child did not succeed.
func ErrCaptureFailed(address, reason string) *Error {
	return NewError(ErrorCodeCaptureFailed, "Screenshot failed: "+reason).
		WithContext("address", address).
		WithSuggestion("Verify a headless Chrome is installed and the capture command runs standalone: aipromptai-snapshot <url> <out>")
}

// ErrDependencyInstallFailed reports one package that could not be installed.
func ErrDependencyInstallFailed(pkg string) *Error {
	return NewError(ErrorCodeDependencyInstallFailed,
		fmt.Sprintf("Dependency '%s' could not be installed", pkg)).
		WithContext("package", pkg)
}

// ErrCodeGenerationFailed reports that the coder produced no program.
func ErrCodeGenerationFailed(cause error) *Error {
	return NewError(ErrorCodeCodeGenerationFailed, "Code generation failed").
		WithCause(cause)
}

// ErrReviewFailed reports that the reviewer produced no instruction.
func ErrReviewFailed(cause error) *Error {
	return NewError(ErrorCodeReviewFailed, "Review failed").
		WithCause(cause)
}

// ErrTerminationFailed reports that the previous deployment could not be stopped.
func ErrTerminationFailed(processID string, cause error) *Error {
	return NewError(ErrorCodeTerminationFailed,
		fmt.Sprintf("Failed to terminate previous deployment '%s'", processID)).
		WithContext("process_id", processID).
		WithCause(cause).
		WithSuggestion(
			"The new deployment was not started. Find and kill the stuck process:\n" +
				"  ps aux | grep generated_app")
}

// ErrWorkspaceWriteFailed reports that the program could not be written to disk.
func ErrWorkspaceWriteFailed(path string, cause error) *Error {
	return NewError(ErrorCodeWorkspaceWriteFailed,
		fmt.Sprintf("Failed to write program to '%s'", path)).
		WithContext("path", path).
		WithCause(cause)
}

// ErrArchiveFailed reports that a captured artifact could not be archived.
func ErrArchiveFailed(path string, cause error) *Error {
	return NewError(ErrorCodeArchiveFailed,
		fmt.Sprintf("Failed to archive artifact '%s'", path)).
		WithContext("path", path).
		WithCause(cause)
}

// ErrInvalidConfiguration creates an error for configuration validation failures
func ErrInvalidConfiguration(field string, value interface{}, reason string) *Error {
	return NewError(ErrorCodeInvalidConfiguration,
		fmt.Sprintf("Invalid configuration: %s", reason)).
		WithContext("field", field).
		WithContext("value", value)
}

// IsErrorCode checks if an error has the specified error code
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or empty string if not an *Error
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetSuggestion returns the suggestion from an error, or empty string if not available
func GetSuggestion(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestion
	}
	return ""
}
