package sandbox

import "errors"

var (
	// ErrEmptyFragment is returned when the fragment has no code
	ErrEmptyFragment = errors.New("code fragment is empty")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrUnknownImport is returned when a template import is not in the reference set
	ErrUnknownImport = errors.New("import is not available in the reference set")

	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidOutputLimit is returned when the output limit is invalid
	ErrInvalidOutputLimit = errors.New("invalid output limit (must be >= 0)")

	// ErrMissingEntryPoint is returned when the compiled unit does not expose the entry point
	ErrMissingEntryPoint = errors.New("compiled unit has no entry point")

	// ErrUnitReleased is returned when a released unit is used again
	ErrUnitReleased = errors.New("execution unit already released")
)
