package llm

import (
	"errors"
	"fmt"
)

// Error types for classifying LLM errors.

// ErrUnsupportedModel is returned when a model identifier cannot be served.
var ErrUnsupportedModel = errors.New("unsupported model")

// UnsupportedModelError names the model and why it cannot be served.
type UnsupportedModelError struct {
	Model  string
	Reason string
}

func (e *UnsupportedModelError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("model %s not supported", e.Model)
	}
	return fmt.Sprintf("model %s not supported: %s", e.Model, e.Reason)
}

func (e *UnsupportedModelError) Unwrap() error {
	return ErrUnsupportedModel
}

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// ClassifyStatus wraps err as transient or fatal according to an HTTP status code.
func ClassifyStatus(statusCode int, err error) error {
	switch {
	case statusCode == 429:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		// Auth, bad request, and anything unexpected are fatal
		return NewFatalError(err)
	}
}
