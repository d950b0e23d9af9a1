package domain

import "errors"

// Common domain errors used across the application. Every error returned
// to a caller wraps exactly one of these sentinels so the API layer can
// map it to a status code with errors.Is.
var (
	// ErrInvalidInput is returned when request inputs do not satisfy the
	// process's declared input schema. This is always the caller's fault.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProcessNotFound is returned when a process ID is not registered.
	ErrProcessNotFound = errors.New("process not found")

	// ErrJobNotFound is returned when a job ID is unknown or its record
	// has expired from the job store.
	ErrJobNotFound = errors.New("job not found")

	// ErrExecutionFailed is returned when the wrapped process raised
	// during computation. The process's own message is preserved.
	ErrExecutionFailed = errors.New("process execution failed")

	// ErrDispatchFailed is returned when a task could not be enqueued
	// after exhausting retries.
	ErrDispatchFailed = errors.New("task dispatch failed")

	// ErrInternal is returned for infrastructure faults: cache or broker
	// unreachable, serialization failures. Full detail is logged, never
	// surfaced to callers.
	ErrInternal = errors.New("internal error")

	// ErrResultNotReady is returned when a result is requested for a job
	// that has not reached a terminal state yet.
	ErrResultNotReady = errors.New("result not ready")

	// ErrJobFailed is returned when a result is requested for a job that
	// terminated in the failed state. The stored error detail is attached.
	ErrJobFailed = errors.New("job failed")

	// ErrJobNotCancelable is returned when dismissal is requested for a
	// job already in a terminal state.
	ErrJobNotCancelable = errors.New("job is not cancelable")

	// ErrInvalidTransition is returned when a job state change is
	// rejected by the state machine, typically because a racing writer
	// reached a terminal state first.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// ErrorKind labels a classified failure on a job record. The taxonomy
// distinguishes caller faults from process faults from infrastructure
// faults, which drives both HTTP mapping and retry policy.
type ErrorKind string

const (
	ErrorKindInvalidInput ErrorKind = "InvalidInput"
	ErrorKindExecution    ErrorKind = "ExecutionError"
	ErrorKindDispatch     ErrorKind = "DispatchError"
	ErrorKindLibrary      ErrorKind = "LibraryError"
)

// KindOf classifies err into an ErrorKind. Unrecognized errors are
// treated as library faults.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return ErrorKindInvalidInput
	case errors.Is(err, ErrExecutionFailed):
		return ErrorKindExecution
	case errors.Is(err, ErrDispatchFailed):
		return ErrorKindDispatch
	default:
		return ErrorKindLibrary
	}
}
