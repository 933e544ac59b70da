package cli

import (
	"errors"

	"orchestrator-core/internal/pipelineir"
)

// Exit codes are a small closed set, switched on by type rather than by
// matching an error string: an invalid invocation, an invalid pipeline IR,
// a config-loading failure, and a catch-all internal error are distinct
// conditions an operator or CI script can branch on.
const (
	ExitSuccess           = 0
	ExitInvalidIR         = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError is returned for a malformed command line: a missing or
// contradictory flag. It never wraps an IR or store error.
type InvocationError struct {
	Message string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ConfigError is returned when configuration loading fails.
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func invalidInvocationf(msg string) error {
	return &InvocationError{Message: msg}
}

// ExitCode classifies err into one of this package's exit codes. A nil
// error is success; an unrecognized error type is ExitInternalError.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return ExitInvalidInvocation
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	var irErr *pipelineir.ValidationError
	if errors.As(err, &irErr) {
		return ExitInvalidIR
	}
	return ExitInternalError
}
