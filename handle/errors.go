package handle

import (
	"context"
	"errors"

	"github.com/hupe1980/kivo"
)

// Code is a stable numeric error code crossing the handle boundary.
type Code int32

const (
	// CodeOK indicates success.
	CodeOK Code = 0
	// CodeNotFound indicates a missing key.
	CodeNotFound Code = 1
	// CodeInvalidArgument indicates a malformed key or value.
	CodeInvalidArgument Code = 2
	// CodeIOFailure indicates persistence failed after retries.
	CodeIOFailure Code = 3
	// CodeAlreadyClosed indicates use of a closed or unknown handle.
	CodeAlreadyClosed Code = 4
	// CodeTimeout indicates a synced acknowledgment exceeded its bound.
	CodeTimeout Code = 5
	// CodeInternal indicates an invariant violation, always a defect.
	CodeInternal Code = 6
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNotFound:
		return "not_found"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeIOFailure:
		return "io_failure"
	case CodeAlreadyClosed:
		return "already_closed"
	case CodeTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// codeFromError maps an error onto the stable code taxonomy. Unknown
// errors map to CodeInternal rather than a misleading specific code.
func codeFromError(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, kivo.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, kivo.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, kivo.ErrIOFailure):
		return CodeIOFailure
	case errors.Is(err, kivo.ErrAlreadyClosed):
		return CodeAlreadyClosed
	case errors.Is(err, kivo.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}
