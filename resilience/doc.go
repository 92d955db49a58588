// Package resilience guards calls to an external tool dispatcher.
//
// Two patterns are provided and can be composed with an Executor:
//
//   - Bulkhead: limits how many dispatches run at once, backed by a weighted
//     semaphore.
//
//   - Timeout: bounds a single dispatch. The operation runs on its own
//     goroutine; panics are recovered and returned as *PanicError.
//
// Errors from the guards themselves (ErrTimeout, ErrBulkheadFull, ErrPanic)
// are Transient: they say nothing about the tool's answer.
//
// # Usage
//
//	executor := resilience.NewExecutor(
//	    resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
//	        MaxConcurrent: 8,
//	        MaxWait:       time.Minute,
//	    })),
//	    resilience.WithTimeout(30*time.Second),
//	)
//
//	payload, err := executor.Execute(ctx, func(ctx context.Context) ([]byte, error) {
//	    return dispatcher.Invoke(ctx, tool, args)
//	})
package resilience
