// Package domain provides the run model and canonical error types for the gateway.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind represents the category of a run orchestration failure.
type ErrorKind string

const (
	// KindRemoteSubmission indicates the start-run call failed or returned no handle.
	KindRemoteSubmission ErrorKind = "remote_submission"

	// KindRemoteStatus indicates a single status query failed. Transient inside the poll loop.
	KindRemoteStatus ErrorKind = "remote_status"

	// KindPipelineFailed indicates the platform reported the run as failed.
	KindPipelineFailed ErrorKind = "pipeline_failed"

	// KindPollTimeout indicates the poll budget elapsed before a terminal state.
	KindPollTimeout ErrorKind = "poll_timeout"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrRemoteSubmission = &Error{Kind: KindRemoteSubmission}
	ErrRemoteStatus     = &Error{Kind: KindRemoteStatus}
	ErrPipelineFailed   = &Error{Kind: KindPipelineFailed}
	ErrPollTimeout      = &Error{Kind: KindPollTimeout}
)

// Error is a run orchestration failure. Callers branch on Kind, never on
// the message text.
type Error struct {
	Kind ErrorKind

	// RunHandle is the run the failure relates to, when one exists.
	RunHandle RunHandle

	// Elapsed is set for poll timeouts.
	Elapsed time.Duration

	// StatusCode is the platform's HTTP status, when the failure came from a response.
	StatusCode int

	// Message is a short human-readable description.
	Message string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RunHandle != "" {
		msg += fmt.Sprintf(" (run %s)", e.RunHandle)
	}
	if e.Kind == KindPollTimeout && e.Elapsed > 0 {
		msg += fmt.Sprintf(" after %s", e.Elapsed.Round(time.Millisecond))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SubmissionError creates a remote submission error.
func SubmissionError(message string, cause error) *Error {
	return &Error{Kind: KindRemoteSubmission, Message: message, Err: cause}
}

// StatusError creates a remote status error for a run.
func StatusError(handle RunHandle, message string, cause error) *Error {
	return &Error{Kind: KindRemoteStatus, RunHandle: handle, Message: message, Err: cause}
}

// PipelineFailedError creates an error for a run the platform reported as failed.
func PipelineFailedError(handle RunHandle) *Error {
	return &Error{Kind: KindPipelineFailed, RunHandle: handle, Message: "pipeline reported failure"}
}

// PollTimeoutError creates an error for a run that did not finish within the poll budget.
// cause, if non-nil, is the last transient status failure observed.
func PollTimeoutError(handle RunHandle, elapsed time.Duration, cause error) *Error {
	return &Error{Kind: KindPollTimeout, RunHandle: handle, Elapsed: elapsed, Message: "run did not finish in time", Err: cause}
}

// WithStatusCode sets the platform HTTP status.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}
