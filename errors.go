package testengine

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-testengine/reporting"
)

// RuntimeError is an operational failure that exits with code 2: a bad
// configuration, an unreadable manifest or a run the engine could not
// complete.
type RuntimeError struct {
	Err error
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return errors.As(err, &runtimeErr)
}

// TestFailureError ends a run-once invocation whose run result is Failed.
// It exits with code 1.
type TestFailureError struct {
	RunID  string
	Failed int
	Status string
}

// NewTestFailureError describes a failed run from its summary
func NewTestFailureError(summary reporting.Summary) *TestFailureError {
	return &TestFailureError{
		RunID:  summary.RunID,
		Failed: summary.Counts.Failed,
		Status: reporting.StatusLine(summary),
	}
}

func (e *TestFailureError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("test run failed: %s", e.Status)
	}
	return fmt.Sprintf("test run %s failed: %s", e.RunID, e.Status)
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var failure *TestFailureError
	return errors.As(err, &failure)
}
