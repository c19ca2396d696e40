package types

import "errors"

// Error taxonomy shared by every component. Wrap with fmt.Errorf("...: %w", err)
// and test with errors.Is.
var (
	// ErrNotFound is returned when no records exist for a requested ticket id
	ErrNotFound = errors.New("not found")
	// ErrExternal is returned when a source adapter or store call failed
	ErrExternal = errors.New("external collaborator error")
	// ErrMalformedInput is returned for unparseable timestamps or missing parameters
	ErrMalformedInput = errors.New("malformed input")
	// ErrPartialFailure is returned by batch operations with mixed per-item outcomes
	ErrPartialFailure = errors.New("partial failure")
)
