package types

import (
	"errors"
	"fmt"
)

// EngineError is the single error kind runners return for driver failures
type EngineError struct {
	Op      string
	Package string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error: %s %s: %v", e.Op, e.Package, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError
func NewEngineError(op string, pkg string, err error) *EngineError {
	return &EngineError{Op: op, Package: pkg, Err: err}
}

// IsEngineError checks if the error is or wraps an EngineError
func IsEngineError(err error) bool {
	var engineErr *EngineError
	return err != nil && errors.As(err, &engineErr)
}

// UnloadError collects the failures of every runner that could not unload
type UnloadError struct {
	Errs []error
}

func (e *UnloadError) Error() string {
	return fmt.Sprintf("unload failed: %v", errors.Join(e.Errs...))
}

// Unwrap implements the errors.Unwrap interface
func (e *UnloadError) Unwrap() []error {
	return e.Errs
}
