package cashier

import "errors"

var (
	// ErrValidation marks input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrIllegalState marks a change the bill's current state does not permit.
	ErrIllegalState = errors.New("illegal bill state")
	// ErrGeneration marks a receipt number that could not be produced.
	ErrGeneration = errors.New("receipt number generation failed")
	// ErrConflict marks a write the store refused because a concurrent write won.
	ErrConflict = errors.New("concurrent modification")
)
