// Package exitcodes defines the exit codes of the op-testengine binary.
package exitcodes

// A run that completes with any failed test exits with TestFailure. Problems
// that stop the engine from producing a result (bad configuration, an
// unreadable manifest, a panic in the service) exit with RuntimeErr.
const (
	Success     = 0 // Every selected test passed or was skipped
	TestFailure = 1 // The run result is Failed
	RuntimeErr  = 2 // The engine could not complete a run
)
