package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error by the run phase and subsystem that
// produced it. The class decides how the engine treats the failure:
// config errors reject the run before it starts, connection and fact
// and command errors fail a single host, hook aborts and threshold
// errors end the whole run.
type ErrorClass string

const (
	// ErrorClassConfig indicates invalid run parameters or an unusable
	// plan. Nothing has been executed.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassConnection indicates a host could not be reached or
	// authenticated.
	ErrorClassConnection ErrorClass = "connection"

	// ErrorClassFact indicates a failure while gathering facts or
	// computing a host's command list.
	ErrorClassFact ErrorClass = "fact"

	// ErrorClassCommand indicates a remote command failed or could not
	// be transported.
	ErrorClassCommand ErrorClass = "command"

	// ErrorClassHookAbort indicates a lifecycle hook aborted the run.
	ErrorClassHookAbort ErrorClass = "hook_abort"

	// ErrorClassThreshold indicates the failed-host percentage exceeded
	// the configured limit.
	ErrorClassThreshold ErrorClass = "threshold"
)

// EngineError is a classified error with host and operation context.
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Host is the host the error belongs to, if any.
	Host string `json:"host,omitempty"`

	// Op is the operation display name being processed, if any.
	Op string `json:"op,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details carries additional context-specific values.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Host != "" && e.Op != "" {
		msg = fmt.Sprintf("[%s] %s (host=%s, op=%s)", e.Class, e.Message, e.Host, e.Op)
	} else if e.Host != "" {
		msg = fmt.Sprintf("[%s] %s (host=%s)", e.Class, e.Message, e.Host)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements class-level equality for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewConfigError creates a config-class error.
func NewConfigError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfig, Message: message, Err: err}
}

// NewConnectionError creates a connection-class error.
func NewConnectionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConnection, Message: message, Err: err}
}

// NewFactError creates a fact-class error.
func NewFactError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassFact, Message: message, Err: err}
}

// NewCommandError creates a command-class error.
func NewCommandError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassCommand, Message: message, Err: err}
}

// NewHookAbortError creates a hook-abort-class error.
func NewHookAbortError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassHookAbort, Message: message, Err: err}
}

// NewThresholdError creates a threshold-class error.
func NewThresholdError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThreshold, Message: message, Err: err}
}

// WithHost adds host context to the error.
func (e *EngineError) WithHost(host string) *EngineError {
	e.Host = host
	return e
}

// WithOp adds operation context to the error.
func (e *EngineError) WithOp(op string) *EngineError {
	e.Op = op
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// IsConfigError reports whether the error is config-class.
func IsConfigError(err error) bool {
	return hasClass(err, ErrorClassConfig)
}

// IsConnectionError reports whether the error is connection-class.
func IsConnectionError(err error) bool {
	return hasClass(err, ErrorClassConnection)
}

// IsFactError reports whether the error is fact-class.
func IsFactError(err error) bool {
	return hasClass(err, ErrorClassFact)
}

// IsCommandError reports whether the error is command-class.
func IsCommandError(err error) bool {
	return hasClass(err, ErrorClassCommand)
}

// IsHookAbort reports whether the error is hook-abort-class.
func IsHookAbort(err error) bool {
	return hasClass(err, ErrorClassHookAbort)
}

// IsThresholdExceeded reports whether the error is threshold-class.
func IsThresholdExceeded(err error) bool {
	return hasClass(err, ErrorClassThreshold)
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
