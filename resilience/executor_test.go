package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_Empty(t *testing.T) {
	e := NewExecutor()
	payload, err := e.Execute(context.Background(), func(context.Context) ([]byte, error) {
		return []byte("direct"), nil
	})
	if err != nil || string(payload) != "direct" {
		t.Errorf("Execute() = %q, %v", payload, err)
	}
	if e.Bulkhead() != nil {
		t.Error("Bulkhead() should be nil")
	}
}

func TestExecutor_ZeroTimeoutIgnored(t *testing.T) {
	e := NewExecutor(WithTimeout(0))
	if e.timeout != nil {
		t.Error("zero timeout should not install a Timeout")
	}
}

func TestExecutor_TimeoutAndBulkhead(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	e := NewExecutor(WithBulkhead(b), WithTimeout(20*time.Millisecond))

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = e.Execute(context.Background(), func(ctx context.Context) ([]byte, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	if _, err := e.Execute(context.Background(), nopOp); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("second Execute() error = %v, want ErrBulkheadFull", err)
	}
	close(release)

	_, err := e.Execute(context.Background(), func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}
	if b.Metrics().Active != 0 {
		t.Error("bulkhead slot leaked after timeout")
	}
}
