package toolcall

import (
	"context"
	"encoding/json"
)

// Call is one tool invocation requested by the agent.
type Call struct {
	ID        string
	Tool      string
	Arguments json.RawMessage
	Turn      string
}

// Source reports how an Output was produced.
type Source int

const (
	// SourceDispatch means this caller's call reached the dispatcher.
	SourceDispatch Source = iota

	// SourceCache means the result was served from the cache.
	SourceCache

	// SourceShared means the result was produced by a concurrent identical call.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceDispatch:
		return "dispatch"
	case SourceCache:
		return "cache"
	case SourceShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Output is the result delivered to one caller.
//
// CallID is always the caller's own call id. Payload may be shared with
// other callers and must not be modified.
type Output struct {
	CallID  string
	Tool    string
	Payload []byte
	Source  Source
}

// Dispatcher performs real tool invocations.
//
// Contract:
// - Concurrency: must be safe for concurrent use.
// - Context: should honor cancellation and deadlines.
type Dispatcher interface {
	Invoke(ctx context.Context, tool string, args json.RawMessage) ([]byte, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, tool string, args json.RawMessage) ([]byte, error)

// Invoke calls f.
func (f DispatcherFunc) Invoke(ctx context.Context, tool string, args json.RawMessage) ([]byte, error) {
	return f(ctx, tool, args)
}
