package resilience

import (
	"context"
	"time"
)

// Executor composes the bulkhead and timeout around an operation.
type Executor struct {
	bulkhead *Bulkhead
	timeout  *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout adds a timeout to the executor. A non-positive timeout is ignored.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
		}
	}
}

// Bulkhead returns the configured bulkhead, or nil.
func (e *Executor) Bulkhead() *Bulkhead { return e.bulkhead }

// Execute runs op through the configured patterns.
//
// The execution order is:
// 1. Bulkhead (if configured) - limits concurrency
// 2. Timeout (if configured) - limits execution time
//
// Without a timeout a panic in op propagates to the caller.
func (e *Executor) Execute(ctx context.Context, op Op) ([]byte, error) {
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) ([]byte, error) {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) ([]byte, error) {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}
