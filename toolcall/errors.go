package toolcall

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by Dispatch after Close.
	ErrSessionClosed = errors.New("toolcall: session closed")

	// ErrNilDispatcher is returned when a runtime is built without a dispatcher.
	ErrNilDispatcher = errors.New("toolcall: dispatcher is nil")

	// ErrTurnRequired is returned for a call or turn event without a turn id.
	ErrTurnRequired = errors.New("toolcall: turn id is required")

	// ErrSessionExists is returned by Manager.Open for an id already open.
	ErrSessionExists = errors.New("toolcall: session already open")

	// ErrSessionNotFound is returned by Manager for an unknown session id.
	ErrSessionNotFound = errors.New("toolcall: session not found")
)

// Kind classifies a failed call.
type Kind int

const (
	// KindDispatchFailed is an error returned by the dispatcher itself.
	KindDispatchFailed Kind = iota + 1

	// KindDispatchTimeout means the dispatch exceeded its deadline or found
	// no free dispatch slot.
	KindDispatchTimeout

	// KindInFlightTimeout means a follower outwaited its bound twice.
	KindInFlightTimeout

	// KindCanonicalization means the call arguments are not valid JSON.
	KindCanonicalization

	// KindAborted means the caller's context ended before the result arrived.
	KindAborted

	// KindPanic means the dispatcher panicked.
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindDispatchFailed:
		return "dispatch_failed"
	case KindDispatchTimeout:
		return "dispatch_timeout"
	case KindInFlightTimeout:
		return "inflight_timeout"
	case KindCanonicalization:
		return "canonicalization_failed"
	case KindAborted:
		return "aborted"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// CallError is the error returned for a failed call.
type CallError struct {
	Kind   Kind
	Tool   string
	CallID string
	Err    error
}

func (e *CallError) Error() string {
	if e.CallID != "" {
		return fmt.Sprintf("toolcall: %s %s (call %s): %v", e.Tool, e.Kind, e.CallID, e.Err)
	}
	return fmt.Sprintf("toolcall: %s %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first CallError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}
