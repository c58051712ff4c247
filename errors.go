package kivo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/kivo/engine"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidArgument is returned for malformed keys or values, such as
	// an empty key or an oversized payload.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIOFailure is returned when backing persistence failed after all
	// retries were exhausted.
	ErrIOFailure = errors.New("io failure")

	// ErrAlreadyClosed is returned for operations on a closed database.
	ErrAlreadyClosed = errors.New("database already closed")

	// ErrTimeout is returned when a synced acknowledgment exceeded its
	// bound.
	ErrTimeout = errors.New("timeout")

	// ErrInternal indicates an invariant violation. It is always a defect,
	// never expected in correct operation.
	ErrInternal = errors.New("internal error")
)

// translateError maps engine-level errors onto the public taxonomy.
// Callers can match with errors.Is; the cause stays reachable via Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %w", ErrAlreadyClosed, err)
	case errors.Is(err, engine.ErrSyncTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, engine.ErrBatchDiscarded):
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	return err
}
