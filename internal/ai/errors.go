package ai

import (
	"errors"
	"fmt"
)

var (
	ErrInferenceTimeout = errors.New("ai inference timeout")
	ErrInvalidResponse  = errors.New("ai provider returned invalid response")
)

// ResponseParseError reports provider text that could not be read as JSON.
// The generation call itself succeeded, so TokensUsed and Model describe it.
type ResponseParseError struct {
	Raw        string
	DirectErr  error
	ExtractErr error
	TokensUsed int
	Model      string
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("parsing provider response: %v; extracting object: %v", e.DirectErr, e.ExtractErr)
}

func (e *ResponseParseError) Unwrap() error { return ErrInvalidResponse }

// Detail returns both parse failure messages on one line.
func (e *ResponseParseError) Detail() string {
	return fmt.Sprintf("direct: %v; extracted: %v", e.DirectErr, e.ExtractErr)
}

// PreconditionError reports input that a generation operation cannot run
// without. It is raised before the provider is called and is never retried.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string { return "precondition failed: " + e.Err.Error() }

func (e *PreconditionError) Unwrap() error { return e.Err }

// PanicError reports a panic raised by a provider during a generation call.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("provider panicked: %v", e.Value) }
