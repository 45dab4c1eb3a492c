package obs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error wraps a construction/decoding failure with the node identifiers
// implicated in it ("culprits"). The per-slot commit driver itself never
// returns one; Error is reserved for configuration, decoding, and
// simulation-harness failures.
type Error struct {
	cause    error
	culprits []uint16
}

// Wrap builds an Error, attaching pkg/errors stack context to cause.
func Wrap(cause error, culprits ...uint16) *Error {
	if cause == nil {
		return nil
	}
	return &Error{
		cause:    errors.WithStack(cause),
		culprits: culprits,
	}
}

func (e *Error) Error() string {
	if len(e.culprits) == 0 {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s (culprits: %v)", e.cause.Error(), e.culprits)
}

func (e *Error) Unwrap() error { return e.cause }

// Culprits returns the node ids implicated in the failure, if any.
func (e *Error) Culprits() []uint16 { return e.culprits }
