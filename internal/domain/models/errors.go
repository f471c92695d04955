package models

import "errors"

// Sentinel errors of the engine core. Callers branch with errors.Is; wrapping
// sites add context with fmt.Errorf and %w.
var (
	// ErrInsufficientData means the feature window is not yet full for a
	// symbol. Recoverable: wait for more observations.
	ErrInsufficientData = errors.New("insufficient data for feature window")

	// ErrHorizonNotElapsed means an evaluation was attempted before the
	// prediction horizon closed. The pending queue makes this unreachable in
	// correct operation; it is checked anyway.
	ErrHorizonNotElapsed = errors.New("prediction horizon not elapsed")

	// ErrOutOfOrder means an observation timestamp does not advance its
	// symbol stream. The bar is rejected, never reordered.
	ErrOutOfOrder = errors.New("observation out of order")

	// ErrDuplicateObservation means a bar repeats an already-seen timestamp
	// for its symbol.
	ErrDuplicateObservation = errors.New("duplicate observation timestamp")

	// ErrPersistence wraps storage failures. The engine keeps running in
	// memory and retries in the background while this is outstanding.
	ErrPersistence = errors.New("persistence failure")
)
