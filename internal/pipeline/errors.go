package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid pipeline configuration")
	// ErrClosed is returned by Schedule once the pipeline stopped accepting work.
	ErrClosed = errors.New("pipeline closed")
	// ErrBrokenChain marks a chain referencing a certificate the store does
	// not hold. Such tasks are dropped, never surfaced from the pipeline.
	ErrBrokenChain = errors.New("broken certificate chain")
)

// ConfigError reports invalid or missing pipeline configuration. Open
// returns it before anything is written to the output.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pipeline config %s: %v", e.Field, e.Err)
}

// Unwrap exposes both ErrConfig and the underlying cause to errors.Is.
func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}
