package toolcall

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/toolflight/allowlist"
	"github.com/jonwraymond/toolflight/cache"
)

// fakeDispatcher counts invocations and can hold them at a gate.
type fakeDispatcher struct {
	calls   atomic.Int32
	entered chan string // receives the tool name of every invocation, if set
	gate    chan struct{}
	respond func(tool string, args json.RawMessage, n int32) ([]byte, error)
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{entered: make(chan string, 128)}
}

// gated makes every invocation block until release is called.
func (d *fakeDispatcher) gated() *fakeDispatcher {
	d.gate = make(chan struct{})
	return d
}

func (d *fakeDispatcher) release() { close(d.gate) }

func (d *fakeDispatcher) Invoke(ctx context.Context, tool string, args json.RawMessage) ([]byte, error) {
	n := d.calls.Add(1)
	if d.entered != nil {
		d.entered <- tool
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.respond != nil {
		return d.respond(tool, args, n)
	}
	return []byte(tool + ":" + string(args)), nil
}

func (d *fakeDispatcher) count() int { return int(d.calls.Load()) }

// awaitEntered blocks until n invocations have started.
func (d *fakeDispatcher) awaitEntered(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-d.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("dispatcher was not invoked")
		}
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPolicy(t *testing.T, entries ...allowlist.Entry) *allowlist.Allowlist {
	t.Helper()
	a, err := allowlist.New(entries)
	if err != nil {
		t.Fatalf("allowlist.New() error = %v", err)
	}
	return a
}

func newTestRuntime(t *testing.T, d Dispatcher, cfg Config) *Runtime {
	t.Helper()
	cfg.Dispatcher = d
	rt, err := NewRuntime("s1", cfg)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func turnKey(t *testing.T, tool, args, turn string) cache.Key {
	t.Helper()
	key, err := cache.NewDefaultKeyer().Key("s1", turn, tool, json.RawMessage(args), cache.ScopeTurn)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	return key
}

type dispatchResult struct {
	out Output
	err error
}

// dispatchAsync runs Dispatch on its own goroutine.
func dispatchAsync(ctx context.Context, rt *Runtime, call Call) <-chan dispatchResult {
	ch := make(chan dispatchResult, 1)
	go func() {
		out, err := rt.Dispatch(ctx, call)
		ch <- dispatchResult{out, err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan dispatchResult) dispatchResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return")
		return dispatchResult{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
