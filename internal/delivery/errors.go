package delivery

import "errors"

var (
	// ErrNotFound indicates an unknown tracking id, including records
	// already erased by cleanup.
	ErrNotFound = errors.New("tracking record not found")

	// ErrAlreadyProcessed indicates a cancellation attempted at or after
	// the record's send time.
	ErrAlreadyProcessed = errors.New("already processed")
)
