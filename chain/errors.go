package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is.
var (
	ErrMissingVariable   = errors.New("missing template variable")
	ErrGenerationFailure = errors.New("text generation failed")
	ErrChainInput        = errors.New("missing chain input")
	ErrStepFailure       = errors.New("chain step failed")
	ErrInvalidSpec       = errors.New("invalid chain spec")
	ErrUnknownChain      = errors.New("unknown chain")
)

// MissingVariableError reports a placeholder with no supplied value.
type MissingVariableError struct {
	Variable  string
	OutputKey string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("step %q: no value for placeholder {%s}", e.OutputKey, e.Variable)
}

func (e *MissingVariableError) Unwrap() error {
	return ErrMissingVariable
}

// GenerationError wraps a failure of the text-generation service.
type GenerationError struct {
	OutputKey string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("step %q: generation failed: %v", e.OutputKey, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailure, e.Err}
}

// InputError lists external chain inputs that were not supplied.
type InputError struct {
	Missing []string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("missing chain inputs: %s", strings.Join(e.Missing, ", "))
}

func (e *InputError) Unwrap() error {
	return ErrChainInput
}

// StepError wraps the error of the first step that failed. Later steps do not run.
type StepError struct {
	Index     int
	OutputKey string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("chain step %d (%s): %v", e.Index+1, e.OutputKey, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{ErrStepFailure, e.Err}
}
