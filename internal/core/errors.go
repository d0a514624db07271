package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // bad inputs or missing connections
	ErrCatExecution  ErrorCategory = "execution"  // backend or executor failure
	ErrCatTimeout    ErrorCategory = "timeout"    // bounded wait expired
	ErrCatOverloaded ErrorCategory = "overloaded" // transient backend overload
	ErrCatStructural ErrorCategory = "structural" // graph cannot be executed at all
	ErrCatNetwork    ErrorCategory = "network"    // remote fetch failed
	ErrCatNotFound   ErrorCategory = "not_found"
	ErrCatConflict   ErrorCategory = "conflict" // resource held by another writer
	ErrCatInternal   ErrorCategory = "internal"
)

// DomainError is the error type shared by every layer. Callers branch on
// Category and Code; Message is what users see.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		msg += " (" + e.Cause.Error() + ")"
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same category and code, so
// errors.Is(err, ErrTimeout("")) works regardless of message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Category == t.Category && e.Code == t.Code
}

// WithCause records the underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail attaches a key/value for API responses and retry decisions.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// newError builds a DomainError. Only overloads are retryable.
func newError(cat ErrorCategory, code, message string) *DomainError {
	return &DomainError{
		Category:  cat,
		Code:      code,
		Message:   message,
		Retryable: cat == ErrCatOverloaded,
	}
}

// ErrValidation reports a node whose inputs are missing or malformed.
func ErrValidation(code, message string) *DomainError {
	return newError(ErrCatValidation, code, message)
}

// ErrExecution reports a terminal executor or backend failure.
func ErrExecution(code, message string) *DomainError {
	return newError(ErrCatExecution, code, message)
}

// ErrTimeout reports an expired bound. Timeouts are not retried within a run.
func ErrTimeout(message string) *DomainError {
	return newError(ErrCatTimeout, CodeTimeout, message)
}

// ErrOverloaded reports transient backend pressure.
func ErrOverloaded(message string) *DomainError {
	return newError(ErrCatOverloaded, CodeBackendOverloaded, message)
}

// ErrStructural reports a graph that cannot run; it aborts the whole run.
func ErrStructural(code, message string) *DomainError {
	return newError(ErrCatStructural, code, message)
}

func ErrConflict(code, message string) *DomainError {
	return newError(ErrCatConflict, code, message)
}

// ErrNetwork reports a failed media fetch.
func ErrNetwork(message string) *DomainError {
	return newError(ErrCatNetwork, CodeFetchFailed, message)
}

// ErrNotFound reports a missing resource of the given kind.
func ErrNotFound(resource, id string) *DomainError {
	return newError(ErrCatNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id))
}

// ErrNoResults reports a backend that answered without usable output.
func ErrNoResults(message string) *DomainError {
	return newError(ErrCatExecution, CodeNoResults, message)
}

// asDomain returns the first DomainError in err's chain.
func asDomain(err error) (*DomainError, bool) {
	var de *DomainError
	ok := errors.As(err, &de)
	return de, ok
}

// IsRetryable reports whether err is a retryable DomainError.
func IsRetryable(err error) bool {
	de, ok := asDomain(err)
	return ok && de.Retryable
}

// GetCategory returns err's category; foreign errors are internal.
func GetCategory(err error) ErrorCategory {
	if de, ok := asDomain(err); ok {
		return de.Category
	}
	return ErrCatInternal
}

func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// DetailRetryAfter is the Details key of a time.Duration the backend asked
// callers to wait before retrying.
const DetailRetryAfter = "retry_after"

// RetryAfter returns the backend's requested retry delay, if err carries one.
func RetryAfter(err error) (time.Duration, bool) {
	de, ok := asDomain(err)
	if !ok {
		return 0, false
	}
	d, ok := de.Details[DetailRetryAfter].(time.Duration)
	return d, ok && d > 0
}

// GetCode returns err's code, or "" for foreign errors.
func GetCode(err error) string {
	if de, ok := asDomain(err); ok {
		return de.Code
	}
	return ""
}

// Message returns the human-readable part of err for node records and API
// responses: a DomainError's Message, otherwise the error text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if de, ok := asDomain(err); ok {
		return de.Message
	}
	return err.Error()
}

// Error codes.
const (
	CodeRunNotFound  = "RUN_NOT_FOUND"
	CodeNodeNotFound = "NODE_NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
	CodeTimeout      = "TIMEOUT"

	// Validation error codes
	CodeUserMessageRequired = "USER_MESSAGE_REQUIRED"
	CodeMissingConnection   = "MISSING_CONNECTION"
	CodeMissingInput        = "MISSING_INPUT"
	CodeInvalidCrop         = "INVALID_CROP"
	CodeCropOutOfBounds     = "CROP_OUT_OF_BOUNDS"
	CodeInvalidTimestamp    = "INVALID_TIMESTAMP"
	CodeNoMedia             = "NO_MEDIA"
	CodeInvalidImage        = "INVALID_IMAGE"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeAmbiguousHandle     = "AMBIGUOUS_HANDLE"
	CodeIncompatibleHandle  = "INCOMPATIBLE_HANDLE"

	// Structural error codes
	CodeDAGCycle        = "DAG_CYCLE"
	CodeExecutionStuck  = "EXECUTION_STUCK"
	CodeUnknownNodeKind = "UNKNOWN_NODE_KIND"
	CodeDuplicateNode   = "DUPLICATE_NODE"
	CodeEmptyWorkflow   = "EMPTY_WORKFLOW"
	CodeDanglingEdge    = "DANGLING_EDGE"
	CodeMissingTarget   = "MISSING_TARGET"

	// Execution error codes
	CodeBackendOverloaded = "BACKEND_OVERLOADED"
	CodeBackendError      = "BACKEND_ERROR"
	CodeNoResults         = "NO_RESULTS"
	CodeFetchFailed       = "FETCH_FAILED"
	CodeExecutorPanic     = "EXECUTOR_PANIC"

	// Ledger error codes
	CodeLedgerLocked    = "LEDGER_LOCKED"
	CodeLedgerCorrupted = "LEDGER_CORRUPTED"

	// CodeSkipped marks nodes not executed because an upstream failed.
	CodeSkipped = "SKIPPED"
)
