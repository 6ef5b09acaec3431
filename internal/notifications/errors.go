package notifications

import (
	"errors"
	"time"
)

// Dispatch errors. Each maps to the stage that raises it.
var (
	ErrValidation        = errors.New("invalid request")
	ErrTargetNotFound    = errors.New("target not found or inactive")
	ErrNoActiveAddresses = errors.New("no active or valid addresses")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrRender            = errors.New("render failed")
	ErrPersistence       = errors.New("persistence failed")
	ErrNoSender          = errors.New("no sender for channel")
)

// Repository errors.
var (
	ErrLogNotFound     = errors.New("message log not found")
	ErrLogAlreadyFinal = errors.New("message log already finalized")
)

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable reports whether the delivery may be attempted again.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable reports whether err was classified transient by its transport.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// statusCode extracts the transport response code carried by err, if any.
func statusCode(err error) *int {
	var s interface{ StatusCode() int }
	if errors.As(err, &s) {
		code := s.StatusCode()
		if code > 0 {
			return &code
		}
	}
	return nil
}

// RetryDelay extracts a provider-requested wait carried by err, if any.
func RetryDelay(err error) time.Duration {
	var d interface{ RetryDelay() time.Duration }
	if errors.As(err, &d) {
		return d.RetryDelay()
	}
	return 0
}
