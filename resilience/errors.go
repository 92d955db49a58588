package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrPanic is matched by every *PanicError.
	ErrPanic = errors.New("resilience: operation panicked")
)

// PanicError carries a value recovered from a panicking operation.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("resilience: operation panicked: %v", e.Value)
}

// Is reports whether target is ErrPanic.
func (e *PanicError) Is(target error) bool { return target == ErrPanic }

// Transient reports whether err describes a failure of the attempt rather
// than an answer from the operation: a timeout, a full bulkhead or a panic.
func Transient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrBulkheadFull) || errors.Is(err, ErrPanic)
}
