package materialize

import (
	"errors"
	"fmt"
)

// Failure operations carried by ExtractionFailure.
const (
	OpOpen    = "open"
	OpParse   = "parse"
	OpWrite   = "write"
	OpTimeout = "timeout"
)

// ErrNotConfigured is returned by Process and Open before a successful Configure.
var ErrNotConfigured = errors.New("materialize: stage not configured")

// ConfigurationError reports an invalid stage configuration. It is fatal:
// the stage refuses to start.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("materialize: invalid configuration: %s: %s", e.Field, e.Reason)
}

// ExtractionFailure reports a per-item failure while opening, parsing or
// writing. The stage never retries; the caller decides routing.
type ExtractionFailure struct {
	Op    string // OpOpen, OpParse, OpWrite, OpTimeout
	Path  string // source path
	Cause error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("materialize: %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Cause
}
