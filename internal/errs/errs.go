// Package errs defines the error kinds of the hashing and verification pipeline (see
// spec §7: invalid-configuration, i/o-failure, shutdown-already-called, worker-panic).
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) so callers can use
// errors.Is without depending on string matching.
var (
	// ErrInvalidArgument covers bad piece size, unknown hash function, and other
	// configuration mistakes caught before any worker starts.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIO covers file open/read failures encountered by the chunk reader.
	ErrIO = errors.New("i/o failure")

	// ErrInvalidState covers calling Wait/Start/Cancel out of order, e.g. Start after
	// a driver has already finished or been cancelled.
	ErrInvalidState = errors.New("invalid state")

	// ErrCancelled marks a run that ended because Cancel was called rather than
	// running to completion.
	ErrCancelled = errors.New("cancelled")
)

// Is reports whether err ultimately wraps target, a thin readability wrapper around
// errors.Is for the common kinds above.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap formats msg and wraps it around kind so callers can recover the sentinel with
// errors.Is(err, kind).
func Wrap(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}
