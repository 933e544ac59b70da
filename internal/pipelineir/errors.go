package pipelineir

import (
	"errors"
	"fmt"
)

// ErrInvalidIR is the sentinel wrapped by every IR validation failure: wrong
// execution mode, asymmetric upstream/downstream references, or a
// non-topological ordering. These
// are all fail-fast, non-retryable construction errors.
var ErrInvalidIR = errors.New("invalid pipeline IR")

// ValidationError wraps a single IR validation failure.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", ErrInvalidIR.Error(), e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidIR }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
